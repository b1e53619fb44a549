// Package stats provides streaming and batch summary statistics over scalar
// and vector samples.
package stats

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"qitkit/pkg/logging"
)

// ErrNaN is returned when a NaN is folded into an accumulator that does not
// skip them.
var ErrNaN = errors.New("stats: NaN value")

// OnlineStats accumulates summary statistics one value at a time using
// Welford's algorithm, so large streams never need to be buffered.
type OnlineStats struct {
	// SkipNaN ignores NaN values instead of failing
	SkipNaN bool

	// Logger receives a message for every skipped NaN
	Logger *zap.Logger

	Num  int
	Min  float64
	Max  float64
	Sum  float64
	Mean float64
	Var  float64
	Std  float64
	Stde float64
	CV   float64

	m2 float64
}

// Update folds a single value into the accumulator.
func (s *OnlineStats) Update(v float64) error {
	if math.IsNaN(v) {
		if s.SkipNaN {
			logging.OrNop(s.Logger).Debug("skipping NaN value", zap.Int("num", s.Num))
			return nil
		}
		return fmt.Errorf("%w after %d values", ErrNaN, s.Num)
	}

	s.Num++
	if s.Num == 1 {
		s.Min = v
		s.Max = v
	} else {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Sum += v

	delta := v - s.Mean
	s.Mean += delta / float64(s.Num)
	s.m2 += delta * (v - s.Mean)

	s.Var = s.m2 / float64(s.Num)
	s.Std = math.Sqrt(s.Var)
	s.Stde = s.Std / math.Sqrt(float64(s.Num))
	if s.Mean != 0 {
		s.CV = s.Std / s.Mean
	} else {
		s.CV = 0
	}

	return nil
}

// Clear resets the accumulator, keeping its options.
func (s *OnlineStats) Clear() {
	*s = OnlineStats{SkipNaN: s.SkipNaN, Logger: s.Logger}
}

// OnlineVectStats keeps one OnlineStats per dimension of a vector stream.
type OnlineVectStats struct {
	Dims []OnlineStats
}

// NewOnlineVectStats creates an accumulator for dim-dimensional vectors.
func NewOnlineVectStats(dim int, skipNaN bool, logger *zap.Logger) *OnlineVectStats {
	out := &OnlineVectStats{Dims: make([]OnlineStats, dim)}
	for i := range out.Dims {
		out.Dims[i].SkipNaN = skipNaN
		out.Dims[i].Logger = logger
	}
	return out
}

// Update folds a vector into the per-dimension accumulators.
func (s *OnlineVectStats) Update(v []float64) error {
	if len(v) != len(s.Dims) {
		panic(fmt.Sprintf("stats: vector has %d values, accumulator expects %d", len(v), len(s.Dims)))
	}
	for i, x := range v {
		if err := s.Dims[i].Update(x); err != nil {
			return fmt.Errorf("dimension %d: %w", i, err)
		}
	}
	return nil
}

// Mean returns the per-dimension means.
func (s *OnlineVectStats) Mean() []float64 {
	out := make([]float64, len(s.Dims))
	for i := range s.Dims {
		out[i] = s.Dims[i].Mean
	}
	return out
}

// Clear resets every dimension.
func (s *OnlineVectStats) Clear() {
	for i := range s.Dims {
		s.Dims[i].Clear()
	}
}

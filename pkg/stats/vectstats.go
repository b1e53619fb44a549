package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmpty is returned when statistics are requested for no values.
	ErrEmpty = errors.New("stats: empty input")

	// ErrInvalidWeights is returned for negative or all-zero weights.
	ErrInvalidWeights = errors.New("stats: invalid weights")
)

// robustDelta keeps the robust residual scale away from zero.
const robustDelta = 1e-10

// Stats holds batch summary statistics of a weighted sample.
type Stats struct {
	Num    int
	Min    float64
	Max    float64
	Sum    float64
	Mean   float64
	Var    float64
	Std    float64
	Stde   float64
	CV     float64
	Median float64
	QLow   float64
	QHigh  float64
	IQR    float64
	MAD    float64
}

// VectStats computes weighted statistics over an in-memory sample. The
// zero value computes plain weighted statistics; Robust enables iterative
// M-estimation of the mean.
type VectStats struct {
	Robust          bool
	Huber           bool
	RobustIters     int
	RobustTolerance float64
	ScaleTukey      float64
	ScaleHuber      float64
}

// NewVectStats returns a VectStats with the usual robust estimation constants.
func NewVectStats() VectStats {
	return VectStats{
		RobustIters:     1000,
		RobustTolerance: 1e-6,
		ScaleTukey:      4.685,
		ScaleHuber:      1.339,
	}
}

// Compute summarizes values with optional weights (nil means uniform).
func (vs VectStats) Compute(values, weights []float64) (Stats, error) {
	if len(values) == 0 {
		return Stats{}, ErrEmpty
	}
	if weights != nil && len(weights) != len(values) {
		panic(fmt.Sprintf("stats: %d weights for %d values", len(weights), len(values)))
	}

	if len(values) == 1 {
		v := values[0]
		return Stats{Num: 1, Min: v, Max: v, Sum: v, Mean: v, Median: v, QLow: v, QHigh: v}, nil
	}

	if weights == nil {
		weights = make([]float64, len(values))
		for i := range weights {
			weights[i] = 1.0 / float64(len(values))
		}
	}
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return Stats{}, fmt.Errorf("%w: weight %d is %g", ErrInvalidWeights, i, w)
		}
	}
	if floats.Sum(weights) <= 0 {
		return Stats{}, fmt.Errorf("%w: weights sum to zero", ErrInvalidWeights)
	}

	out := summarize(values, weights)
	if !vs.Robust {
		return out, nil
	}

	iters := vs.RobustIters
	if iters <= 0 {
		iters = 1000
	}
	scale := vs.ScaleTukey
	if vs.Huber {
		scale = vs.ScaleHuber
	}
	if scale <= 0 {
		if vs.Huber {
			scale = 1.339
		} else {
			scale = 4.685
		}
	}

	robust := make([]float64, len(values))
	for iter := 0; iter < iters; iter++ {
		prev := out.Mean
		for i, v := range values {
			u := math.Abs(v-out.Median) / (out.MAD*scale + robustDelta)
			var w float64
			if vs.Huber {
				w = 1
				if u > 1 {
					w = 1 / u
				}
			} else if u < 1 {
				w = (1 - u*u) * (1 - u*u)
			}
			robust[i] = weights[i] * math.Min(1, math.Max(0, w))
		}

		sum := floats.Sum(robust)
		if sum <= 0 {
			break
		}
		floats.Scale(1/sum, robust)
		out = summarize(values, robust)

		change := math.Abs(out.Mean - prev)
		if prev != 0 {
			change /= math.Abs(prev)
		}
		if change < vs.RobustTolerance {
			break
		}
	}

	return out, nil
}

// summarize assumes at least two values and a positive weight sum.
func summarize(values, weights []float64) Stats {
	num := len(values)
	sumw := floats.Sum(weights)

	var out Stats
	out.Num = num
	out.QLow, out.Median, out.QHigh = quantiles(values, weights, sumw)

	devs := make([]float64, num)
	for i, v := range values {
		devs[i] = math.Abs(v - out.Median)
	}
	_, out.MAD, _ = quantiles(devs, weights, sumw)

	out.Min = floats.Min(values)
	out.Max = floats.Max(values)
	out.Sum = floats.Sum(values)
	out.Mean = stat.Mean(values, weights)

	for i, v := range values {
		d := v - out.Mean
		out.Var += weights[i] * d * d
	}
	out.Var /= sumw
	out.Std = math.Sqrt(out.Var)
	out.Stde = out.Std / math.Sqrt(float64(num))
	if out.Mean != 0 {
		out.CV = out.Std / out.Mean
	}
	out.IQR = out.QHigh - out.QLow

	return out
}

// quantiles walks the cumulative weight of the sorted values; the first value
// whose cumulative weight strictly exceeds a threshold is that quantile.
func quantiles(values, weights []float64, sumw float64) (low, med, high float64) {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	perm := make([]int, len(values))
	floats.Argsort(sorted, perm)

	tlow, tmed, thigh := 0.25*sumw, 0.5*sumw, 0.75*sumw
	flow, fmed, fhigh := true, true, true
	inc := 0.0
	for i, idx := range perm {
		inc += weights[idx]
		v := sorted[i]
		if flow && inc > tlow {
			low, flow = v, false
		}
		if fmed && inc > tmed {
			med, fmed = v, false
		}
		if fhigh && inc > thigh {
			high, fhigh = v, false
		}
	}

	// rounding can leave the last threshold uncrossed
	last := sorted[len(sorted)-1]
	if flow {
		low = last
	}
	if fmed {
		med = last
	}
	if fhigh {
		high = last
	}
	return low, med, high
}

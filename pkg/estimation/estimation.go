// Package estimation computes weighted consensus models: given a set of
// model encodings and weights it returns the single encoding that best
// summarizes them.
package estimation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/config"
	"qitkit/pkg/linalg"
	"qitkit/pkg/model"
)

var (
	// ErrUnsupported is returned for unknown estimation strategies.
	ErrUnsupported = errors.New("estimation: unsupported")

	// ErrInvalidWeights is returned for negative or NaN weights.
	ErrInvalidWeights = errors.New("estimation: invalid weights")
)

// Estimator reduces weighted encodings of one model to a consensus.
type Estimator interface {
	// Codec describes the encodings the estimator consumes and produces
	Codec() model.Codec

	// Estimate returns the consensus encoding. A zero total weight yields
	// the codec's empty encoding.
	Estimate(weights []float64, encodings [][]float64) ([]float64, error)
}

// New builds the estimator for cfg.Model.
func New(cfg config.Estimation, logger *zap.Logger) (Estimator, error) {
	codec, err := model.Lookup(cfg.Model)
	if err != nil {
		return nil, err
	}

	switch c := codec.(type) {
	case model.TensorCodec:
		return TensorEstimator{LogEuclidean: cfg.LogEuclidean}, nil
	case model.BiTensorCodec:
		return BiTensorEstimator{LogEuclidean: cfg.LogEuclidean}, nil
	case model.NoddiCodec:
		method := cfg.Noddi
		if method == "" {
			method = NoddiComponent
		}
		return NewNoddiEstimator(method)
	case model.McsmtCodec:
		return McsmtEstimator{}, nil
	case model.LineCodec:
		return LineEstimator{}, nil
	case model.FibersCodec:
		// a bare model name takes its compartment count from the settings
		comps := c.Comps
		if strings.EqualFold(strings.TrimSpace(cfg.Model), model.FibersName) && cfg.Fibers.MaxComps > 0 {
			comps = cfg.Fibers.MaxComps
		}
		return NewFibersEstimator(comps, cfg.Fibers, logger)
	}
	return nil, fmt.Errorf("%w: model %q", ErrUnsupported, codec.Name())
}

// checkInputs validates the shapes and returns the total weight. Shape
// mismatches are caller bugs and panic.
func checkInputs(weights []float64, encodings [][]float64, size int) (float64, error) {
	if len(weights) != len(encodings) {
		panic(fmt.Sprintf("estimation: %d weights for %d encodings", len(weights), len(encodings)))
	}
	for i, enc := range encodings {
		if len(enc) != size {
			panic(fmt.Sprintf("estimation: encoding %d has %d values, want %d", i, len(enc), size))
		}
	}
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return 0, fmt.Errorf("%w: weight %d is %g", ErrInvalidWeights, i, w)
		}
	}
	return floats.Sum(weights), nil
}

// column gathers one element of every encoding.
func column(encodings [][]float64, idx int) []float64 {
	out := make([]float64, len(encodings))
	for i, enc := range encodings {
		out[i] = enc[idx]
	}
	return out
}

// weightedMean assumes a positive total weight.
func weightedMean(values, weights []float64) float64 {
	return floats.Dot(values, weights) / floats.Sum(weights)
}

// geometricMean averages in log space and falls back to the arithmetic mean
// when any value with weight is not positive.
func geometricMean(values, weights []float64) float64 {
	logs := make([]float64, len(values))
	for i, v := range values {
		if v <= 0 {
			if weights[i] > 0 {
				return weightedMean(values, weights)
			}
			continue
		}
		logs[i] = math.Log(v)
	}
	return math.Exp(weightedMean(logs, weights))
}

// axialMean averages sign-ambiguous axes: the samples are aligned with the
// principal axis of their dyadic sum, averaged and normalized. The result
// points into the half space of the heaviest sample. Zero axes are skipped
// and nil is returned when none remain.
func axialMean(lines [][]float64, weights []float64) []float64 {
	scatter := newScatter()
	heaviest := -1
	for i, l := range lines {
		if weights[i] <= 0 || linalg.Zero(floats.Norm(l, 2)) {
			continue
		}
		linalg.AddDyadic(scatter, weights[i], linalg.Normalize(l))
		if heaviest < 0 || weights[i] > weights[heaviest] {
			heaviest = i
		}
	}
	if heaviest < 0 {
		return nil
	}

	eig, ok := linalg.Eig(scatter)
	if !ok {
		return linalg.Normalize(lines[heaviest])
	}
	axis := eig.Vectors[0]

	sum := make([]float64, 3)
	for i, l := range lines {
		if weights[i] <= 0 || linalg.Zero(floats.Norm(l, 2)) {
			continue
		}
		u := linalg.Normalize(l)
		linalg.Orient(u, axis)
		floats.AddScaled(sum, weights[i], u)
	}

	out := linalg.Normalize(sum)
	if linalg.Zero(floats.Norm(out, 2)) {
		out = axis
	}
	linalg.Orient(out, lines[heaviest])
	return out
}

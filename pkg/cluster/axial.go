package cluster

import (
	"fmt"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/linalg"
)

// AxialKMeans clusters sign-ambiguous directions with the distance
// 1 - (a.b)^2. Samples are normalized before clustering.
type AxialKMeans struct {
	Config
	Initial [][]float64
}

// Run clusters the axes in vects.
func (km AxialKMeans) Run(vects [][]float64, weights []float64) (*KMeansResult, error) {
	if km.Initial != nil && len(km.Initial) != km.K {
		return nil, fmt.Errorf("%w: %d initial centers for k=%d", ErrInvalidConfig, len(km.Initial), km.K)
	}
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}
	units := normalizeAll(vects)

	s, trace, err := run(km.Config, len(units), func(rng *fastrand.RNG) *hardState {
		return newHardState(units, w, km.K, axial{}, rng, km.Initial)
	})
	if err != nil {
		return nil, fmt.Errorf("axial kmeans: %w", err)
	}
	return s.result(trace), nil
}

type axial struct{}

func (axial) distance(a, b []float64) float64 {
	d := floats.Dot(a, b)
	return 1 - d*d
}

func (axial) center(members [][]float64, weights []float64) []float64 {
	return principalAxis(members, weights)
}

// SpatialAxialKMeans clusters 6-vectors made of a position and a direction
// with the distance Alpha*|dpos|^2 + Beta*(1 - (da.db)^2). Both terms
// weigh one when Alpha and Beta are zero.
type SpatialAxialKMeans struct {
	Config
	Alpha float64
	Beta  float64
}

// Run clusters the position-direction pairs in vects.
func (km SpatialAxialKMeans) Run(vects [][]float64, weights []float64) (*KMeansResult, error) {
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}
	pairs, err := normalizePairs(vects)
	if err != nil {
		return nil, err
	}

	m := spatialAxial{alpha: km.Alpha, beta: km.Beta}
	if m.alpha == 0 && m.beta == 0 {
		m.alpha, m.beta = 1, 1
	}
	s, trace, err := run(km.Config, len(pairs), func(rng *fastrand.RNG) *hardState {
		return newHardState(pairs, w, km.K, m, rng, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("spatial axial kmeans: %w", err)
	}
	return s.result(trace), nil
}

type spatialAxial struct {
	alpha, beta float64
}

func (m spatialAxial) distance(a, b []float64) float64 {
	dp := floats.Distance(a[:3], b[:3], 2)
	dd := floats.Dot(a[3:6], b[3:6])
	return m.alpha*dp*dp + m.beta*(1-dd*dd)
}

func (spatialAxial) center(members [][]float64, weights []float64) []float64 {
	pos := make([][]float64, len(members))
	dir := make([][]float64, len(members))
	for i, v := range members {
		pos[i] = v[:3]
		dir[i] = v[3:6]
	}
	return append(weightedMean(pos, weights), principalAxis(dir, weights)...)
}

// principalAxis returns the dominant eigenvector of the weighted dyadic sum,
// oriented along the heaviest member.
func principalAxis(vects [][]float64, weights []float64) []float64 {
	dim := len(vects[0])
	scatter := mat.NewSymDense(dim, nil)
	heaviest := 0
	for i, v := range vects {
		linalg.AddDyadic(scatter, weights[i], v)
		if weights[i] > weights[heaviest] {
			heaviest = i
		}
	}

	eig, ok := linalg.Eig(scatter)
	if !ok {
		return append([]float64(nil), vects[heaviest]...)
	}
	axis := eig.Vectors[0]
	linalg.Orient(axis, vects[heaviest])
	return axis
}

func normalizeAll(vects [][]float64) [][]float64 {
	out := make([][]float64, len(vects))
	for i, v := range vects {
		out[i] = linalg.Normalize(v)
	}
	return out
}

func normalizePairs(vects [][]float64) ([][]float64, error) {
	out := make([][]float64, len(vects))
	for i, v := range vects {
		if len(v) != 6 {
			return nil, fmt.Errorf("%w: sample %d has %d values, want position and direction", ErrInvalidConfig, i, len(v))
		}
		out[i] = append(append([]float64(nil), v[:3]...), linalg.Normalize(v[3:6])...)
	}
	return out, nil
}

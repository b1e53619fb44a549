package cluster

import (
	"math"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/linalg"
)

// metric defines a hard clustering variant: how far a sample is from a
// center and how a center summarizes its members.
type metric interface {
	distance(a, b []float64) float64
	center(members [][]float64, weights []float64) []float64
}

// KMeansResult is the outcome of a hard clustering run.
type KMeansResult struct {
	// Labels assigns each sample to a cluster in [1, K]
	Labels  []int
	Centers [][]float64
	Mix     []float64
	Cost    float64
	Trace   Trace
}

// hardState assigns each sample to its closest center.
type hardState struct {
	vects   [][]float64
	weights []float64
	k       int
	m       metric
	rng     *fastrand.RNG
	initial [][]float64

	centers [][]float64
	mix     []float64
	lab     []int
}

func newHardState(vects [][]float64, weights []float64, k int, m metric, rng *fastrand.RNG, initial [][]float64) *hardState {
	return &hardState{vects: vects, weights: weights, k: k, m: m, rng: rng, initial: initial}
}

func (s *hardState) init(labels []int) error {
	if s.initial != nil {
		s.centers = make([][]float64, s.k)
		for j := range s.centers {
			s.centers[j] = append([]float64(nil), s.initial[j]...)
		}
	} else {
		s.centers = seedCenters(s.vects, s.weights, s.k, s.m, s.rng)
	}

	s.mix = make([]float64, s.k)
	for j := range s.mix {
		s.mix[j] = 1 / float64(s.k)
	}

	s.lab = make([]int, len(s.vects))
	if labels != nil {
		copy(s.lab, labels)
		s.maximization()
	}
	return nil
}

func (s *hardState) expectation() {
	if _, ok := s.m.(euclidean); ok {
		nearest := newCenterTree(s.centers)
		for i, v := range s.vects {
			s.lab[i] = nearest(v) + 1
		}
		return
	}

	for i, v := range s.vects {
		best, bestDist := 0, math.Inf(1)
		for j, c := range s.centers {
			if d := s.m.distance(v, c); d < bestDist {
				best, bestDist = j, d
			}
		}
		s.lab[i] = best + 1
	}
}

// maximization recomputes every center from its members. A cluster without
// members keeps its previous center.
func (s *hardState) maximization() {
	members := make([][][]float64, s.k)
	mw := make([][]float64, s.k)
	mass := make([]float64, s.k)
	var total float64
	for i, l := range s.lab {
		if l == 0 {
			continue
		}
		members[l-1] = append(members[l-1], s.vects[i])
		mw[l-1] = append(mw[l-1], s.weights[i])
		mass[l-1] += s.weights[i]
		total += s.weights[i]
	}

	for j := 0; j < s.k; j++ {
		if mass[j] > linalg.Delta {
			s.centers[j] = s.m.center(members[j], mw[j])
		}
		if total > 0 {
			s.mix[j] = mass[j] / total
		}
	}
}

func (s *hardState) cost() float64 {
	var out float64
	for i, l := range s.lab {
		if l > 0 {
			out += s.weights[i] * s.m.distance(s.vects[i], s.centers[l-1])
		}
	}
	return out
}

func (s *hardState) labels() []int {
	return s.lab
}

func (s *hardState) result(trace Trace) *KMeansResult {
	return &KMeansResult{
		Labels:  s.lab,
		Centers: s.centers,
		Mix:     s.mix,
		Cost:    s.cost(),
		Trace:   trace,
	}
}

// seedCenters picks k samples as initial centers with k-means++ seeding:
// each new center is drawn with probability proportional to its weighted
// distance from the centers chosen so far.
func seedCenters(vects [][]float64, weights []float64, k int, m metric, rng *fastrand.RNG) [][]float64 {
	n := len(vects)
	centers := make([][]float64, 0, k)

	first := int(rng.Uint32n(uint32(n)))
	centers = append(centers, append([]float64(nil), vects[first]...))

	dists := make([]float64, n)
	for i := range dists {
		dists[i] = math.Inf(1)
	}
	for len(centers) < k {
		last := centers[len(centers)-1]
		var total float64
		for i, v := range vects {
			dists[i] = math.Min(dists[i], m.distance(v, last))
			total += weights[i] * dists[i]
		}

		chosen := int(rng.Uint32n(uint32(n)))
		if total > 0 {
			threshold := linalg.Uniform(rng) * total
			var cumulative float64
			for i, d := range dists {
				cumulative += weights[i] * d
				if cumulative > threshold {
					chosen = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), vects[chosen]...))
	}
	return centers
}

// weightedMean returns the weighted average of vects.
func weightedMean(vects [][]float64, weights []float64) []float64 {
	out := make([]float64, len(vects[0]))
	sumw := floats.Sum(weights)
	for i, v := range vects {
		floats.AddScaled(out, weights[i]/sumw, v)
	}
	return out
}

// warmStart runs a single hard clustering to seed a mixture model.
func warmStart(vects [][]float64, weights []float64, cfg Config, m metric, rng *fastrand.RNG) ([]int, error) {
	warm := cfg
	warm.Labels = nil
	s := newHardState(vects, weights, cfg.K, m, rng, nil)
	if _, err := runSingle(s, warm, nopLogger); err != nil {
		return nil, err
	}
	return s.lab, nil
}

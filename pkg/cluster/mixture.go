package cluster

import (
	"fmt"
	"math"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/fitting"
	"qitkit/pkg/linalg"
	"qitkit/pkg/logging"
)

// MixtureResult is the outcome of a soft clustering run.
type MixtureResult[C any] struct {
	// Labels holds the most responsible component of each sample, in [1, K]
	Labels     []int
	Mix        []float64
	Components []C

	// Resp is the samples by components responsibility matrix
	Resp *mat.Dense

	// Cost is the weighted negative log likelihood
	Cost  float64
	Trace Trace
}

type (
	GaussianMixtureResult       = MixtureResult[*fitting.Gaussian]
	WatsonMixtureResult         = MixtureResult[fitting.Watson]
	GaussianWatsonMixtureResult = MixtureResult[fitting.GaussianWatson]
	BernoulliMixtureResult      = MixtureResult[[]float64]
)

// family describes one kind of mixture component.
type family[C any] struct {
	logDensity func(c C, x []float64) float64
	fit        func(vects [][]float64, weights []float64, rng *fastrand.RNG) (C, error)
	warm       func(rng *fastrand.RNG) ([]int, error)
}

type mixtureState[C any] struct {
	vects   [][]float64
	weights []float64
	k       int
	fam     family[C]
	rng     *fastrand.RNG
	logger  *zap.Logger

	comps  []C
	fitted []bool
	mix    []float64
	resp   *mat.Dense
	lab    []int
}

func newMixtureState[C any](vects [][]float64, weights []float64, cfg Config, fam family[C], rng *fastrand.RNG) *mixtureState[C] {
	return &mixtureState[C]{
		vects:   vects,
		weights: weights,
		k:       cfg.K,
		fam:     fam,
		rng:     rng,
		logger:  logging.OrNop(cfg.Logger),
	}
}

func (s *mixtureState[C]) init(labels []int) error {
	n := len(s.vects)
	if labels == nil {
		warm, err := s.fam.warm(s.rng)
		if err != nil {
			return fmt.Errorf("warm start: %w", err)
		}
		labels = warm
	}

	s.comps = make([]C, s.k)
	s.fitted = make([]bool, s.k)
	s.mix = make([]float64, s.k)
	s.resp = mat.NewDense(n, s.k, nil)
	s.lab = make([]int, n)
	copy(s.lab, labels)

	for i, l := range labels {
		if l == 0 {
			for j := 0; j < s.k; j++ {
				s.resp.Set(i, j, 1/float64(s.k))
			}
			continue
		}
		s.resp.Set(i, l-1, 1)
	}

	s.maximization()
	return nil
}

func (s *mixtureState[C]) logJoint(i int, row []float64) {
	for j := 0; j < s.k; j++ {
		row[j] = math.Log(s.mix[j]) + s.fam.logDensity(s.comps[j], s.vects[i])
	}
}

func (s *mixtureState[C]) expectation() {
	row := make([]float64, s.k)
	for i := range s.vects {
		s.logJoint(i, row)
		if math.IsInf(floats.Max(row), -1) {
			// no component supports this sample
			for j := 0; j < s.k; j++ {
				s.resp.Set(i, j, 1/float64(s.k))
			}
			s.lab[i] = floats.MaxIdx(s.mix) + 1
			continue
		}

		lse := floats.LogSumExp(row)
		for j, lp := range row {
			s.resp.Set(i, j, math.Exp(lp-lse))
		}
		s.lab[i] = floats.MaxIdx(row) + 1
	}
}

// maximization refits every component to its responsibilities. A component
// with no responsibility mass keeps its previous parameters; one that was
// never fitted starts from the whole sample.
func (s *mixtureState[C]) maximization() {
	n := len(s.vects)
	col := make([]float64, n)
	total := floats.Sum(s.weights)

	for j := 0; j < s.k; j++ {
		var mass float64
		for i := 0; i < n; i++ {
			col[i] = s.weights[i] * s.resp.At(i, j)
			mass += col[i]
		}

		switch {
		case mass > linalg.Delta:
			c, err := s.fam.fit(s.vects, col, s.rng)
			if err != nil {
				s.logger.Warn("component fit failed, keeping previous parameters", zap.Int("component", j+1), zap.Error(err))
				break
			}
			s.comps[j], s.fitted[j] = c, true
		case !s.fitted[j]:
			c, err := s.fam.fit(s.vects, s.weights, s.rng)
			if err != nil {
				s.logger.Warn("component fit failed", zap.Int("component", j+1), zap.Error(err))
				break
			}
			s.comps[j], s.fitted[j] = c, true
		default:
			s.logger.Debug("component lost all responsibility", zap.Int("component", j+1))
		}

		if total > 0 {
			s.mix[j] = mass / total
		}
	}
}

func (s *mixtureState[C]) cost() float64 {
	row := make([]float64, s.k)
	var nll float64
	for i := range s.vects {
		s.logJoint(i, row)
		if math.IsInf(floats.Max(row), -1) {
			continue
		}
		nll -= s.weights[i] * floats.LogSumExp(row)
	}
	return nll
}

func (s *mixtureState[C]) labels() []int {
	return s.lab
}

func (s *mixtureState[C]) result(trace Trace) *MixtureResult[C] {
	return &MixtureResult[C]{
		Labels:     s.lab,
		Mix:        s.mix,
		Components: s.comps,
		Resp:       s.resp,
		Cost:       s.cost(),
		Trace:      trace,
	}
}

func runMixture[C any](cfg Config, vects [][]float64, weights []float64, fam family[C]) (*MixtureResult[C], error) {
	s, trace, err := run(cfg, len(vects), func(rng *fastrand.RNG) *mixtureState[C] {
		return newMixtureState(vects, weights, cfg, fam, rng)
	})
	if err != nil {
		return nil, err
	}
	return s.result(trace), nil
}

// GaussianMixture fits a mixture of multivariate Gaussians, warm started by
// k-means.
type GaussianMixture struct {
	Config
	Fitter fitting.GaussianFitter
}

// Run fits the mixture to vects.
func (gm GaussianMixture) Run(vects [][]float64, weights []float64) (*GaussianMixtureResult, error) {
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}

	fitter := gm.Fitter
	if fitter.Logger == nil {
		fitter.Logger = gm.Logger
	}
	cfg := gm.Config.withDefaults()
	res, err := runMixture(cfg, vects, w, family[*fitting.Gaussian]{
		logDensity: func(g *fitting.Gaussian, x []float64) float64 { return g.LogDensity(x) },
		fit: func(vects [][]float64, weights []float64, _ *fastrand.RNG) (*fitting.Gaussian, error) {
			return fitter.Fit(vects, weights)
		},
		warm: func(rng *fastrand.RNG) ([]int, error) {
			return warmStart(vects, w, cfg, euclidean{}, rng)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gaussian mixture: %w", err)
	}
	return res, nil
}

// WatsonMixture fits a mixture of Watson distributions to axes, warm
// started by axial k-means.
type WatsonMixture struct {
	Config
	Fitter fitting.WatsonFitter
}

// Run fits the mixture to the axes in vects.
func (wm WatsonMixture) Run(vects [][]float64, weights []float64) (*WatsonMixtureResult, error) {
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}
	units := normalizeAll(vects)

	cfg := wm.Config.withDefaults()
	res, err := runMixture(cfg, units, w, family[fitting.Watson]{
		logDensity: func(c fitting.Watson, x []float64) float64 { return c.LogDensity(x) },
		fit: func(vects [][]float64, weights []float64, rng *fastrand.RNG) (fitting.Watson, error) {
			f := wm.Fitter
			f.Rand = rng
			if f.Logger == nil {
				f.Logger = wm.Logger
			}
			return f.Fit(vects, weights)
		},
		warm: func(rng *fastrand.RNG) ([]int, error) {
			return warmStart(units, w, cfg, axial{}, rng)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("watson mixture: %w", err)
	}
	return res, nil
}

// GaussianWatsonMixture fits joint position-direction components to
// 6-vectors, warm started by spatial axial k-means.
type GaussianWatsonMixture struct {
	Config
	Gaussian fitting.GaussianFitter
	Watson   fitting.WatsonFitter

	// Alpha and Beta weigh the warm start distance
	Alpha float64
	Beta  float64
}

// Run fits the mixture to the position-direction pairs in vects.
func (gwm GaussianWatsonMixture) Run(vects [][]float64, weights []float64) (*GaussianWatsonMixtureResult, error) {
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}
	pairs, err := normalizePairs(vects)
	if err != nil {
		return nil, err
	}

	m := spatialAxial{alpha: gwm.Alpha, beta: gwm.Beta}
	if m.alpha == 0 && m.beta == 0 {
		m.alpha, m.beta = 1, 1
	}
	gf := gwm.Gaussian
	if gf.Logger == nil {
		gf.Logger = gwm.Logger
	}

	cfg := gwm.Config.withDefaults()
	res, err := runMixture(cfg, pairs, w, family[fitting.GaussianWatson]{
		logDensity: func(c fitting.GaussianWatson, x []float64) float64 { return c.LogDensity(x) },
		fit: func(vects [][]float64, weights []float64, rng *fastrand.RNG) (fitting.GaussianWatson, error) {
			wf := gwm.Watson
			wf.Rand = rng
			if wf.Logger == nil {
				wf.Logger = gwm.Logger
			}
			return fitting.FitGaussianWatson(vects, weights, gf, wf)
		},
		warm: func(rng *fastrand.RNG) ([]int, error) {
			return warmStart(pairs, w, cfg, m, rng)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gaussian watson mixture: %w", err)
	}
	return res, nil
}

// BernoulliMixture fits a mixture of independent per-dimension Bernoulli
// components to binary vectors, warm started by k-means. Values of at least
// one half count as on.
type BernoulliMixture struct {
	Config

	// Eps keeps probabilities away from 0 and 1 when taking logs
	Eps float64
}

// Run fits the mixture to vects.
func (bm BernoulliMixture) Run(vects [][]float64, weights []float64) (*BernoulliMixtureResult, error) {
	w, err := sampleWeights(weights, len(vects))
	if err != nil {
		return nil, err
	}
	eps := bm.Eps
	if eps <= 0 {
		eps = 1e-6
	}
	bins := binarize(vects)

	cfg := bm.Config.withDefaults()
	res, err := runMixture(cfg, bins, w, family[[]float64]{
		logDensity: func(p []float64, x []float64) float64 {
			var out float64
			for d, v := range x {
				pd := math.Min(1-eps, math.Max(eps, p[d]))
				if v > 0 {
					out += math.Log(pd)
				} else {
					out += math.Log(1 - pd)
				}
			}
			return out
		},
		fit: func(vects [][]float64, weights []float64, _ *fastrand.RNG) ([]float64, error) {
			sumw := floats.Sum(weights)
			if !(sumw > 0) {
				return nil, fmt.Errorf("%w: component weights sum to %g", ErrInvalidConfig, sumw)
			}
			return weightedMean(vects, weights), nil
		},
		warm: func(rng *fastrand.RNG) ([]int, error) {
			return warmStart(bins, w, cfg, euclidean{}, rng)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("bernoulli mixture: %w", err)
	}
	return res, nil
}

func binarize(vects [][]float64) [][]float64 {
	out := make([][]float64, len(vects))
	for i, v := range vects {
		out[i] = make([]float64, len(v))
		for d, x := range v {
			if x >= 0.5 {
				out[i][d] = 1
			}
		}
	}
	return out
}

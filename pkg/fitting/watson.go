package fitting

import (
	"fmt"
	"math"
	"sync"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/linalg"
	"qitkit/pkg/logging"
)

const (
	// above this concentration the Watson integrals use their asymptotic series
	asymptoticKappa = 200

	quadPoints = 256

	// fallback concentrations for a moment estimate that is not finite or negative
	defaultKappaInf = 100
	defaultKappaNeg = 1
)

var (
	legendreOnce    sync.Once
	legendreNodes   []float64
	legendreWeights []float64
)

// integrate evaluates the integral of f over [0, 1] with a cached
// Gauss-Legendre rule.
func integrate(f func(float64) float64) float64 {
	legendreOnce.Do(func() {
		legendreNodes = make([]float64, quadPoints)
		legendreWeights = make([]float64, quadPoints)
		quad.Legendre{}.FixedLocations(legendreNodes, legendreWeights, 0, 1)
	})

	var sum float64
	for i, t := range legendreNodes {
		sum += legendreWeights[i] * f(t)
	}
	return sum
}

// scaledMoments returns the integrals of t^2 exp(k(t^2-s)) and exp(k(t^2-s))
// over [0, 1], with s = 1 for positive k so that nothing overflows.
func scaledMoments(kappa float64) (second, zeroth float64) {
	shift := 0.0
	if kappa > 0 {
		shift = 1
	}
	zeroth = integrate(func(t float64) float64 {
		return math.Exp(kappa * (t*t - shift))
	})
	second = integrate(func(t float64) float64 {
		return t * t * math.Exp(kappa*(t*t-shift))
	})
	return second, zeroth
}

// LogNormalizer returns log M(kappa), where M(kappa) is the integral of
// exp(kappa t^2) over [0, 1]. The Watson density on the sphere is
// exp(kappa (mu.x)^2) / (4 pi M(kappa)).
func LogNormalizer(kappa float64) float64 {
	if kappa > asymptoticKappa {
		return kappa + math.Log((1+1/(2*kappa)+3/(4*kappa*kappa))/(2*kappa))
	}
	_, zeroth := scaledMoments(kappa)
	if kappa > 0 {
		return kappa + math.Log(zeroth)
	}
	return math.Log(zeroth)
}

// LambdaWatson returns the expected squared projection E[(mu.x)^2] of a
// Watson distribution with concentration kappa. It increases monotonically
// from 1/3 at kappa = 0 towards 1.
func LambdaWatson(kappa float64) float64 {
	if kappa > asymptoticKappa {
		return 1 - 1/kappa - 1/(2*kappa*kappa)
	}
	second, zeroth := scaledMoments(kappa)
	return second / zeroth
}

// KappaWatson inverts LambdaWatson. ok is false when lambda lies outside
// the open interval (1/3, 1), where no non-negative concentration exists.
func KappaWatson(lambda float64) (float64, bool) {
	if math.IsNaN(lambda) || lambda <= 1.0/3 || lambda >= 1 {
		return 0, false
	}

	if lambda >= LambdaWatson(asymptoticKappa) {
		// invert 1 - 1/k - 1/(2k^2)
		e := 1 - lambda
		return (1 + math.Sqrt(1+2*e)) / (2 * e), true
	}

	lo, hi := 0.0, float64(asymptoticKappa)
	for iter := 0; iter < 100 && hi-lo > 1e-10; iter++ {
		mid := 0.5 * (lo + hi)
		if LambdaWatson(mid) < lambda {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi), true
}

// Watson is an axial distribution on the unit sphere.
type Watson struct {
	Mu    []float64
	Kappa float64
}

// LogDensity evaluates the log density at the unit vector x; x and -x have
// the same density.
func (w Watson) LogDensity(x []float64) float64 {
	d := floats.Dot(w.Mu, x)
	return -math.Log(4*math.Pi) - LogNormalizer(w.Kappa) + w.Kappa*d*d
}

// Density evaluates the density at the unit vector x.
func (w Watson) Density(x []float64) float64 {
	return math.Exp(w.LogDensity(x))
}

// WatsonFitter fits a Watson distribution to weighted axial samples.
type WatsonFitter struct {
	// Fixed pins the concentration instead of estimating it
	Fixed *float64

	// Reg shrinks log kappa by this fraction
	Reg float64

	// Rand drives the random axis of a degenerate fit
	Rand *fastrand.RNG

	Logger *zap.Logger
}

// Fit estimates the mean axis and concentration of vects. Samples are
// normalized, zero vectors are ignored and nil weights are uniform.
func (f WatsonFitter) Fit(vects [][]float64, weights []float64) (Watson, error) {
	weights = uniformIfNil(weights, len(vects))
	if len(weights) != len(vects) {
		panic(fmt.Sprintf("fitting: %d weights for %d samples", len(weights), len(vects)))
	}

	if total := floats.Sum(weights); !(total > 0) {
		return Watson{}, fmt.Errorf("%w: sum is %g", ErrInvalidWeights, total)
	}

	logger := logging.OrNop(f.Logger)
	scatter := mat.NewSymDense(3, nil)
	units := make([][]float64, len(vects))
	var sumw float64
	for i, v := range vects {
		units[i] = linalg.Normalize(v)
		if floats.Norm(units[i], 2) == 0 {
			continue
		}
		linalg.AddDyadic(scatter, weights[i], units[i])
		sumw += weights[i]
	}
	if sumw > 0 {
		scatter.ScaleSym(1/sumw, scatter)
	}

	eig, ok := linalg.Eig(scatter)
	if !ok || linalg.Zero(mat.Trace(scatter)) || math.Abs(floats.Norm(eig.Vectors[0], 2)-1) > 1e-6 {
		rng := f.Rand
		if rng == nil {
			rng = &fastrand.RNG{}
		}
		logger.Warn("degenerate axial scatter, using a random axis", zap.Float64("trace", mat.Trace(scatter)))
		return Watson{Mu: linalg.RandomUnit(rng), Kappa: 0}, nil
	}
	mu := eig.Vectors[0]

	var kappa float64
	if f.Fixed != nil {
		kappa = *f.Fixed
	} else {
		var inverted bool
		kappa, inverted = KappaWatson(eig.Values[0])
		if !inverted || kappa < 0 {
			var m float64
			for i, u := range units {
				d := floats.Dot(mu, u)
				m += weights[i] * d * d
			}
			m /= sumw

			kappa = 1 / (1 - m)
			switch {
			case math.IsInf(kappa, 0) || math.IsNaN(kappa) || linalg.Zero(1-m):
				kappa = defaultKappaInf
			case kappa < 0:
				kappa = defaultKappaNeg
			}
			logger.Debug("moment estimate of watson concentration",
				zap.Float64("lambda", eig.Values[0]), zap.Float64("kappa", kappa))
		}
	}

	if f.Reg > 0 && kappa > 0 {
		kappa = math.Exp((1 - f.Reg) * math.Log(kappa))
	}

	return Watson{Mu: mu, Kappa: kappa}, nil
}

// GaussianWatson is the product of a Gaussian over positions and a Watson
// distribution over directions, evaluated on 6-vectors (x, y, z, dx, dy, dz).
type GaussianWatson struct {
	Gaussian *Gaussian
	Watson   Watson
}

// LogDensity evaluates the joint log density of a position-direction pair.
func (gw GaussianWatson) LogDensity(x []float64) float64 {
	return gw.Gaussian.LogDensity(x[:3]) + gw.Watson.LogDensity(linalg.Normalize(x[3:6]))
}

// FitGaussianWatson fits the positional part of 6-vectors with gf and the
// directional part with wf.
func FitGaussianWatson(vects [][]float64, weights []float64, gf GaussianFitter, wf WatsonFitter) (GaussianWatson, error) {
	pos := make([][]float64, len(vects))
	dir := make([][]float64, len(vects))
	for i, v := range vects {
		if len(v) != 6 {
			panic(fmt.Sprintf("fitting: position-direction sample %d has %d values", i, len(v)))
		}
		pos[i] = v[:3]
		dir[i] = v[3:6]
	}

	g, err := gf.Fit(pos, weights)
	if err != nil {
		return GaussianWatson{}, fmt.Errorf("position: %w", err)
	}
	w, err := wf.Fit(dir, weights)
	if err != nil {
		return GaussianWatson{}, fmt.Errorf("direction: %w", err)
	}
	return GaussianWatson{Gaussian: g, Watson: w}, nil
}

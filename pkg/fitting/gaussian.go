// Package fitting holds the weighted maximum likelihood fitters used by the
// mixture models and estimators: multivariate Gaussians, Watson axial
// distributions and the joint Gaussian-Watson model.
package fitting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"qitkit/pkg/linalg"
	"qitkit/pkg/logging"
)

// ErrInvalidWeights is returned when the weights of a fit do not sum to a
// positive value.
var ErrInvalidWeights = errors.New("fitting: weights must sum to a positive value")

// maxJitterTries bounds the escalating diagonal regularization applied to a
// singular covariance.
const maxJitterTries = 12

// CovarianceType selects the structure of a fitted covariance matrix.
type CovarianceType int

const (
	// Full estimates every covariance entry
	Full CovarianceType = iota
	// Diagonal estimates per-dimension variances only
	Diagonal
	// Spherical estimates a single variance shared by all dimensions
	Spherical
	// Fixed uses a caller supplied variance on the diagonal
	Fixed
)

func (c CovarianceType) String() string {
	switch c {
	case Full:
		return "full"
	case Diagonal:
		return "diagonal"
	case Spherical:
		return "spherical"
	case Fixed:
		return "fixed"
	default:
		return fmt.Sprintf("CovarianceType(%d)", int(c))
	}
}

// ParseCovarianceType maps a covariance name to its type.
func ParseCovarianceType(name string) (CovarianceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "full", "":
		return Full, nil
	case "diagonal", "diag":
		return Diagonal, nil
	case "spherical":
		return Spherical, nil
	case "fixed":
		return Fixed, nil
	default:
		return Full, fmt.Errorf("unknown covariance type %q", name)
	}
}

// GaussianFitter fits a multivariate Gaussian to weighted samples.
type GaussianFitter struct {
	Type CovarianceType

	// Variance is the diagonal value used by the Fixed type
	Variance float64

	// Prior is the isotropic variance blended in with weight Mix
	Prior float64
	Mix   float64

	// Add is added to the diagonal after blending
	Add float64

	Logger *zap.Logger
}

// Fit estimates the weighted mean and covariance of vects. Nil weights are
// treated as uniform.
func (f GaussianFitter) Fit(vects [][]float64, weights []float64) (*Gaussian, error) {
	if len(vects) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidWeights)
	}
	weights = uniformIfNil(weights, len(vects))
	if len(weights) != len(vects) {
		panic(fmt.Sprintf("fitting: %d weights for %d samples", len(weights), len(vects)))
	}

	sumw := floats.Sum(weights)
	if !(sumw > 0) {
		return nil, fmt.Errorf("%w: sum is %g", ErrInvalidWeights, sumw)
	}

	dim := len(vects[0])
	mean := make([]float64, dim)
	for i, v := range vects {
		floats.AddScaled(mean, weights[i]/sumw, v)
	}

	cov := mat.NewSymDense(dim, nil)
	centered := make([]float64, dim)
	switch f.Type {
	case Full:
		for i, v := range vects {
			floats.SubTo(centered, v, mean)
			linalg.AddDyadic(cov, weights[i]/sumw, centered)
		}
	case Diagonal:
		for i, v := range vects {
			for d := 0; d < dim; d++ {
				c := v[d] - mean[d]
				cov.SetSym(d, d, cov.At(d, d)+weights[i]/sumw*c*c)
			}
		}
	case Spherical:
		var ss float64
		for i, v := range vects {
			floats.SubTo(centered, v, mean)
			ss += weights[i] / sumw * floats.Dot(centered, centered)
		}
		setDiag(cov, ss/float64(dim))
	case Fixed:
		setDiag(cov, f.Variance)
	}

	if f.Mix > 0 {
		cov.ScaleSym(1-f.Mix, cov)
		addDiag(cov, f.Mix*f.Prior)
	}
	if f.Add != 0 {
		addDiag(cov, f.Add)
	}

	return NewGaussian(mean, cov, f.Logger), nil
}

// Gaussian is a multivariate normal distribution.
type Gaussian struct {
	Mean []float64
	Cov  *mat.SymDense

	dist *distmv.Normal
}

// NewGaussian builds a Gaussian. A covariance that is not positive definite
// is regularized with escalating diagonal jitter for evaluating densities;
// if that fails too every log density is -Inf.
func NewGaussian(mean []float64, cov *mat.SymDense, logger *zap.Logger) *Gaussian {
	g := &Gaussian{Mean: mean, Cov: cov}
	if dist, ok := distmv.NewNormal(mean, cov, nil); ok {
		g.dist = dist
		return g
	}

	dim := len(mean)
	jitter := 1e-10 * math.Max(1, mat.Trace(cov)/float64(dim))
	reg := mat.NewSymDense(dim, nil)
	for try := 0; try < maxJitterTries; try++ {
		reg.CopySym(cov)
		addDiag(reg, jitter)
		if dist, ok := distmv.NewNormal(mean, reg, nil); ok {
			logging.OrNop(logger).Debug("regularized singular covariance",
				zap.Float64("jitter", jitter), zap.Int("dim", dim))
			g.dist = dist
			return g
		}
		jitter *= 10
	}

	logging.OrNop(logger).Warn("covariance is not positive definite, density is zero",
		zap.Int("dim", dim), zap.Float64("trace", mat.Trace(cov)))
	return g
}

// Dim returns the dimension of the distribution.
func (g *Gaussian) Dim() int {
	return len(g.Mean)
}

// LogDensity evaluates the log probability density at x.
func (g *Gaussian) LogDensity(x []float64) float64 {
	if g.dist == nil {
		return math.Inf(-1)
	}
	return g.dist.LogProb(x)
}

// Density evaluates the probability density at x.
func (g *Gaussian) Density(x []float64) float64 {
	return math.Exp(g.LogDensity(x))
}

func setDiag(m *mat.SymDense, v float64) {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		m.SetSym(i, i, v)
	}
}

func addDiag(m *mat.SymDense, v float64) {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		m.SetSym(i, i, m.At(i, i)+v)
	}
}

func uniformIfNil(weights []float64, n int) []float64 {
	if weights != nil {
		return weights
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

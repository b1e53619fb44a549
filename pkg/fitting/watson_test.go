package fitting

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/linalg"
)

func TestLambdaWatson(t *testing.T) {
	assert.InDelta(t, 1.0/3, LambdaWatson(0), 1e-12)
	assert.InDelta(t, 0.0, LogNormalizer(0), 1e-12)

	prev := LambdaWatson(-5)
	for _, k := range []float64{0, 0.5, 2, 10, 50, 150, 199, 201, 1000} {
		l := LambdaWatson(k)
		assert.Greater(t, l, prev, "kappa %v", k)
		assert.Less(t, l, 1.0)
		prev = l
	}

	// the quadrature and the asymptotic series agree at the switch
	assert.InEpsilon(t, LambdaWatson(199.999), LambdaWatson(200.001), 1e-6)
	assert.InEpsilon(t, LogNormalizer(199.999), LogNormalizer(200.001), 1e-6)
}

func TestKappaWatsonInverse(t *testing.T) {
	for _, k := range []float64{0.5, 5, 50, 150, 500} {
		got, ok := KappaWatson(LambdaWatson(k))
		require.True(t, ok)
		assert.InEpsilon(t, k, got, 1e-6, "kappa %v", k)
	}

	for _, l := range []float64{0.2, 1.0 / 3, 1, 1.5, math.NaN()} {
		_, ok := KappaWatson(l)
		assert.False(t, ok, "lambda %v", l)
	}
}

// TestWatsonFitConcentrated verifies the mean axis and concentration of a tight cluster
func TestWatsonFitConcentrated(t *testing.T) {
	var rng fastrand.RNG
	rng.Seed(11)

	vects := make([][]float64, 100)
	for i := range vects {
		v := []float64{
			0.1 * (2*linalg.Uniform(&rng) - 1),
			0.1 * (2*linalg.Uniform(&rng) - 1),
			1,
		}
		if i%2 == 1 {
			floats.Scale(-1, v)
		}
		vects[i] = linalg.Normalize(v)
	}

	w, err := WatsonFitter{}.Fit(vects, nil)
	require.NoError(t, err)

	cos := math.Abs(floats.Dot(w.Mu, []float64{0, 0, 1}))
	assert.Greater(t, cos, math.Cos(5*math.Pi/180))
	assert.Greater(t, w.Kappa, 10.0)
	assert.Equal(t, w.LogDensity(vects[0]), w.LogDensity([]float64{-vects[0][0], -vects[0][1], -vects[0][2]}))
}

func TestWatsonFitUniform(t *testing.T) {
	var rng fastrand.RNG
	rng.Seed(5)

	vects := make([][]float64, 100)
	for i := range vects {
		vects[i] = linalg.RandomUnit(&rng)
	}

	w, err := WatsonFitter{}.Fit(vects, nil)
	require.NoError(t, err)
	assert.Less(t, w.Kappa, 2.0)
	assert.InDelta(t, 1.0, floats.Norm(w.Mu, 2), 1e-9)
}

func TestWatsonFitFallbacks(t *testing.T) {
	// identical axes put lambda at 1, the moment estimate diverges
	same := [][]float64{{1, 0, 0}, {-1, 0, 0}, {1, 0, 0}}
	w, err := WatsonFitter{}.Fit(same, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(defaultKappaInf), w.Kappa)

	fixed := 100.0
	w, err = WatsonFitter{Fixed: &fixed, Reg: 0.5}.Fit(same, nil)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, w.Kappa, 1e-9)

	var rng fastrand.RNG
	rng.Seed(3)
	w, err = WatsonFitter{Rand: &rng}.Fit([][]float64{{0, 0, 0}, {0, 0, 0}}, nil)
	require.NoError(t, err)
	assert.Zero(t, w.Kappa)
	assert.InDelta(t, 1.0, floats.Norm(w.Mu, 2), 1e-9)

	_, err = WatsonFitter{}.Fit(same, []float64{0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestFitGaussianWatson(t *testing.T) {
	vects := [][]float64{
		{0, 0, 0, 0, 0, 1},
		{1, 0, 0, 0, 0.05, -1},
		{0, 1, 0, 0.05, 0, 1},
		{1, 1, 0, 0, 0, 1},
	}
	gw, err := FitGaussianWatson(vects, nil, GaussianFitter{Type: Spherical, Add: 0.01}, WatsonFitter{})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0}, gw.Gaussian.Mean, 1e-12)
	assert.Greater(t, math.Abs(gw.Watson.Mu[2]), 0.99)
	assert.Greater(t, gw.LogDensity(vects[0]), gw.LogDensity([]float64{0.5, 0.5, 0, 1, 0, 0}))

	assert.Panics(t, func() {
		_, _ = FitGaussianWatson([][]float64{{1, 2, 3}}, nil, GaussianFitter{}, WatsonFitter{})
	})
}

package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/fitting"
	"qitkit/pkg/linalg"
)

// axes draws n noisy copies of each axis with random signs
func axes(seed uint32, n int, noise float64, dirs ...[]float64) [][]float64 {
	var rng fastrand.RNG
	rng.Seed(seed)

	var out [][]float64
	for _, d := range dirs {
		for i := 0; i < n; i++ {
			v := make([]float64, 3)
			for k := range v {
				v[k] = d[k] + noise*(2*linalg.Uniform(&rng)-1)
			}
			if rng.Uint32n(2) == 1 {
				floats.Scale(-1, v)
			}
			out = append(out, linalg.Normalize(v))
		}
	}
	return out
}

func assertSplit(t *testing.T, labels []int, n int) {
	t.Helper()
	for i := 1; i < n; i++ {
		assert.Equal(t, labels[0], labels[i])
		assert.Equal(t, labels[n], labels[n+i])
	}
	assert.NotEqual(t, labels[0], labels[n])
}

func TestGaussianMixture(t *testing.T) {
	vects := blobs(21, 40, 0.5, []float64{0, 0}, []float64{5, 5})
	cfg := DefaultConfig(2)
	cfg.Seed = 2
	cfg.Thresh = 1e-9

	res, err := GaussianMixture{Config: cfg, Fitter: fitting.GaussianFitter{Type: fitting.Full}}.Run(vects, nil)
	require.NoError(t, err)

	assertLabelRange(t, res.Labels, 2)
	assertSplit(t, res.Labels, 40)
	assertNonIncreasing(t, res.Trace.Costs)
	assert.InDelta(t, 1.0, floats.Sum(res.Mix), 1e-9)

	for j, g := range res.Components {
		assert.InDelta(t, 0.5, res.Mix[j], 1e-6)
		near := floats.Distance(g.Mean, []float64{0, 0}, 2) < 0.3 || floats.Distance(g.Mean, []float64{5, 5}, 2) < 0.3
		assert.True(t, near, "component %d mean %v", j, g.Mean)
	}

	r, c := res.Resp.Dims()
	assert.Equal(t, 80, r)
	assert.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, res.Resp.At(i, 0)+res.Resp.At(i, 1), 1e-9)
	}
}

func TestWatsonMixture(t *testing.T) {
	vects := axes(5, 30, 0.1, []float64{1, 0, 0}, []float64{0, 0, 1})
	cfg := DefaultConfig(2)
	cfg.Seed = 1

	res, err := WatsonMixture{Config: cfg}.Run(vects, nil)
	require.NoError(t, err)

	assertSplit(t, res.Labels, 30)
	for _, w := range res.Components {
		along := math.Max(math.Abs(w.Mu[0]), math.Abs(w.Mu[2]))
		assert.Greater(t, along, 0.98)
		assert.Greater(t, w.Kappa, 10.0)
	}
}

func TestGaussianWatsonMixture(t *testing.T) {
	pos := blobs(6, 20, 0.5, []float64{0, 0, 0}, []float64{10, 10, 10})
	dirs := axes(7, 20, 0.1, []float64{0, 0, 1}, []float64{1, 0, 0})
	vects := make([][]float64, len(pos))
	for i := range pos {
		vects[i] = append(append([]float64(nil), pos[i]...), dirs[i]...)
	}

	cfg := DefaultConfig(2)
	res, err := GaussianWatsonMixture{
		Config:   cfg,
		Gaussian: fitting.GaussianFitter{Type: fitting.Spherical, Add: 1e-3},
	}.Run(vects, nil)
	require.NoError(t, err)

	assertSplit(t, res.Labels, 20)
	for _, c := range res.Components {
		assert.Len(t, c.Gaussian.Mean, 3)
		assert.InDelta(t, 1.0, floats.Norm(c.Watson.Mu, 2), 1e-9)
	}

	_, err = GaussianWatsonMixture{Config: cfg}.Run([][]float64{{1, 2, 3}, {4, 5, 6}}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBernoulliMixture(t *testing.T) {
	var vects [][]float64
	for i := 0; i < 10; i++ {
		vects = append(vects, []float64{0.9, 1, 0.7, 0, 0.1, 0.2})
	}
	for i := 0; i < 10; i++ {
		vects = append(vects, []float64{0, 0.3, 0, 1, 0.6, 0.8})
	}

	res, err := BernoulliMixture{Config: DefaultConfig(2)}.Run(vects, nil)
	require.NoError(t, err)

	assertSplit(t, res.Labels, 10)
	a := res.Components[res.Labels[0]-1]
	b := res.Components[res.Labels[10]-1]
	assert.InDeltaSlice(t, []float64{1, 1, 1, 0, 0, 0}, a, 1e-9)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 1, 1, 1}, b, 1e-9)
}

// TestMixtureEmptyComponent verifies that a component losing all
// responsibility keeps its parameters while one never fitted starts from
// the whole sample
func TestMixtureEmptyComponent(t *testing.T) {
	vects := [][]float64{{0}, {1}, {10}}
	fam := family[[]float64]{
		logDensity: func(c []float64, x []float64) float64 { return -(x[0] - c[0]) * (x[0] - c[0]) },
		fit: func(vects [][]float64, weights []float64, _ *fastrand.RNG) ([]float64, error) {
			return weightedMean(vects, weights), nil
		},
	}

	s := newMixtureState(vects, []float64{1, 1, 1}, DefaultConfig(2), fam, nil)
	require.NoError(t, s.init([]int{1, 1, 2}))
	assert.InDeltaSlice(t, []float64{0.5}, s.comps[0], 1e-12)
	assert.InDeltaSlice(t, []float64{10}, s.comps[1], 1e-12)

	for i := range vects {
		s.resp.Set(i, 0, 1)
		s.resp.Set(i, 1, 0)
	}
	s.maximization()
	assert.InDeltaSlice(t, []float64{11.0 / 3}, s.comps[0], 1e-12)
	assert.InDeltaSlice(t, []float64{10}, s.comps[1], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0}, s.mix, 1e-12)

	s = newMixtureState(vects, []float64{1, 1, 1}, DefaultConfig(2), fam, nil)
	require.NoError(t, s.init([]int{1, 1, 1}))
	assert.InDeltaSlice(t, []float64{11.0 / 3}, s.comps[1], 1e-12)
	assert.Equal(t, 0.0, s.mix[1])
}

// TestBernoulliMixtureInitialLabels verifies that supplied labels are 1-indexed
func TestBernoulliMixtureInitialLabels(t *testing.T) {
	vects := [][]float64{{1, 0}, {1, 0}, {0, 1}, {0, 1}}
	cfg := DefaultConfig(2)
	cfg.Labels = []int{2, 2, 1, 1}
	cfg.MaxIters = 1

	res, err := BernoulliMixture{Config: cfg}.Run(vects, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1, 1}, res.Labels)
	assert.InDeltaSlice(t, []float64{1, 0}, res.Components[1], 1e-9)
}

func TestAxialKMeans(t *testing.T) {
	vects := axes(8, 25, 0.15, []float64{0, 1, 0}, []float64{1, 0, 1})
	res, err := AxialKMeans{Config: DefaultConfig(2)}.Run(vects, nil)
	require.NoError(t, err)

	assertSplit(t, res.Labels, 25)
	assertNonIncreasing(t, res.Trace.Costs)
	for _, c := range res.Centers {
		assert.InDelta(t, 1.0, floats.Norm(c, 2), 1e-9)
	}
}

func TestSpatialAxialKMeans(t *testing.T) {
	// same positions, directions decide
	pos := blobs(9, 15, 0.1, []float64{1, 1, 1}, []float64{1, 1, 1})
	dirs := axes(10, 15, 0.05, []float64{0, 0, 1}, []float64{0, 1, 0})
	vects := make([][]float64, len(pos))
	for i := range pos {
		vects[i] = append(append([]float64(nil), pos[i]...), dirs[i]...)
	}

	res, err := SpatialAxialKMeans{Config: DefaultConfig(2), Alpha: 0.1, Beta: 1}.Run(vects, nil)
	require.NoError(t, err)
	assertSplit(t, res.Labels, 15)
	for _, c := range res.Centers {
		assert.Len(t, c, 6)
	}
}

func TestRunDispatch(t *testing.T) {
	vects := [][]float64{{0, 0, 0}, {10, 10, 10}, {0.1, 0, 0}, {10.1, 10, 10}}
	labels, result, err := Run(KindKMeans, DefaultConfig(2), Params{}, vects, nil)
	require.NoError(t, err)
	assert.Len(t, labels, 4)
	assert.IsType(t, &KMeansResult{}, result)

	_, _, err = Run(Kind(99), DefaultConfig(2), Params{}, vects, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

package estimation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/config"
	"qitkit/pkg/model"
)

func TestNew(t *testing.T) {
	tests := []struct {
		model string
		name  string
		size  int
	}{
		{"dti", model.TensorName, model.TensorSize},
		{"bdti", model.BiTensorName, model.BiTensorSize},
		{"noddi", model.NoddiName, model.NoddiSize},
		{"mcsmt", model.McsmtName, model.McsmtSize},
		{"line", model.LineName, model.LineSize},
		{"xfib", model.FibersName, model.FibersSize(model.DefaultFiberComps)},
		{"xfib2", model.FibersName, model.FibersSize(2)},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			cfg := config.DefaultConfig().Estimation
			cfg.Model = tt.model

			est, err := New(cfg, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.name, est.Codec().Name())
			assert.Equal(t, tt.size, est.Codec().Size())
		})
	}
}

func TestNewFibersComps(t *testing.T) {
	cfg := config.DefaultConfig().Estimation
	cfg.Model = "xfib"
	cfg.Fibers.MaxComps = 4

	est, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, model.FibersSize(4), est.Codec().Size())

	// an explicit suffix wins
	cfg.Model = "xfib2"
	est, err = New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, model.FibersSize(2), est.Codec().Size())
}

func TestNewErrors(t *testing.T) {
	cfg := config.DefaultConfig().Estimation

	cfg.Model = "dki"
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, model.ErrUnknownModel)

	cfg.Model = "noddi"
	cfg.Noddi = "Harmonic"
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	cfg = config.DefaultConfig().Estimation
	cfg.Model = "xfib"
	cfg.Fibers.Selection = "best"
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	cfg.Fibers.Selection = "max"
	cfg.Fibers.Clustering = "spectral"
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestZeroWeightsGiveEmpty verifies that every estimator returns the empty
// encoding when no sample carries weight
func TestZeroWeightsGiveEmpty(t *testing.T) {
	for _, name := range []string{"dti", "bdti", "noddi", "mcsmt", "line", "xfib"} {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig().Estimation
			cfg.Model = name
			est, err := New(cfg, nil)
			require.NoError(t, err)

			codec := est.Codec()
			enc := make([]float64, codec.Size())
			for i := range enc {
				enc[i] = 0.5
			}

			out, err := est.Estimate([]float64{0, 0}, [][]float64{enc, enc})
			require.NoError(t, err)
			assert.Equal(t, codec.Empty(), out)
		})
	}
}

func TestInvalidInputs(t *testing.T) {
	est := TensorEstimator{}
	enc := model.TensorCodec{}.Empty()

	_, err := est.Estimate([]float64{1, -1}, [][]float64{enc, enc})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = est.Estimate([]float64{1, math.NaN()}, [][]float64{enc, enc})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	assert.Panics(t, func() { est.Estimate([]float64{1}, [][]float64{enc, enc}) })
	assert.Panics(t, func() { est.Estimate([]float64{1}, [][]float64{{1, 2}}) })
}

// rotatedTensor builds a tensor with eigenvalues vals around a rotated frame.
func rotatedTensor(s0, fw float64, vals ...float64) []float64 {
	c, s := math.Cos(0.3), math.Sin(0.3)
	vecs := mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
	d := mat.NewSymDense(3, nil)
	for i, v := range vals {
		col := mat.Col(nil, i, vecs)
		d.SymRankOne(d, v, mat.NewVecDense(3, col))
	}
	return model.Tensor{S0: s0, D: d, FW: fw}.Encode()
}

func TestTensorIdempotent(t *testing.T) {
	enc := rotatedTensor(100, 0.2, 1.7e-3, 0.4e-3, 0.3e-3)

	for _, logEuclidean := range []bool{false, true} {
		out, err := TensorEstimator{LogEuclidean: logEuclidean}.Estimate([]float64{0.3, 0.7}, [][]float64{enc, enc})
		require.NoError(t, err)
		assert.InDeltaSlice(t, enc, out, 1e-9)
	}
}

// TestTensorLogEuclidean verifies that log averaging gives the geometric
// mean of the eigenvalues while linear averaging gives the arithmetic mean
func TestTensorLogEuclidean(t *testing.T) {
	a := rotatedTensor(1, 0, 1, 1, 1)
	b := rotatedTensor(3, 0, 4, 4, 4)
	weights := []float64{1, 1}

	out, err := TensorEstimator{LogEuclidean: true}.Estimate(weights, [][]float64{a, b})
	require.NoError(t, err)
	tensor := model.DecodeTensor(out)
	assert.InDelta(t, 2.0, tensor.S0, 1e-12)
	assert.InDelta(t, 2.0, tensor.MD(), 1e-9)

	out, err = TensorEstimator{}.Estimate(weights, [][]float64{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, model.DecodeTensor(out).MD(), 1e-9)

	// a tensor with a negative eigenvalue forces linear averaging
	c := rotatedTensor(1, 0, 4, 4, -1)
	out, err = TensorEstimator{LogEuclidean: true}.Estimate(weights, [][]float64{a, c})
	require.NoError(t, err)
	assert.InDelta(t, 5.0/3, model.DecodeTensor(out).MD(), 1e-9)
}

func TestBiTensor(t *testing.T) {
	tissue := model.DecodeTensor(rotatedTensor(1, 0, 1.5e-3, 0.3e-3, 0.3e-3)).D
	fluid := model.DecodeTensor(rotatedTensor(1, 0, 3e-3, 3e-3, 3e-3)).D
	enc := model.BiTensor{S0: 50, Dot: 0.1, Frac: 0.3, Tissue: tissue, Fluid: fluid}.Encode()

	out, err := BiTensorEstimator{LogEuclidean: true}.Estimate([]float64{1, 2}, [][]float64{enc, enc})
	require.NoError(t, err)
	assert.InDeltaSlice(t, enc, out, 1e-9)

	other := model.BiTensor{S0: 20, Dot: 0.3, Frac: 0.6, Tissue: tissue, Fluid: fluid}.Encode()
	out, err = BiTensorEstimator{}.Estimate([]float64{1, 1}, [][]float64{enc, other})
	require.NoError(t, err)
	bt := model.DecodeBiTensor(out)
	assert.InDelta(t, 35.0, bt.S0, 1e-12)
	assert.InDelta(t, 0.2, bt.Dot, 1e-12)
	assert.InDelta(t, 0.45, bt.Frac, 1e-12)
}

func TestMcsmt(t *testing.T) {
	enc := model.Mcsmt{Base: 10, Frac: 0.6, Diff: 2e-3, Dot: 0.05}.Encode()
	out, err := McsmtEstimator{}.Estimate([]float64{1, 3}, [][]float64{enc, enc})
	require.NoError(t, err)
	assert.InDeltaSlice(t, enc, out, 1e-12)

	a := model.Mcsmt{Base: 10, Frac: 0.2, Diff: 1e-3}.Encode()
	b := model.Mcsmt{Base: 20, Frac: 0.4, Diff: 4e-3}.Encode()
	out, err = McsmtEstimator{}.Estimate([]float64{1, 1}, [][]float64{a, b})
	require.NoError(t, err)
	m := model.DecodeMcsmt(out)
	assert.InDelta(t, 15.0, m.Base, 1e-12)
	assert.InDelta(t, 0.3, m.Frac, 1e-12)
	assert.InDelta(t, 2e-3, m.Diff, 1e-12)

	// a non-positive diffusivity falls back to the arithmetic mean
	c := model.Mcsmt{Diff: 0}.Encode()
	d := model.Mcsmt{Diff: 2}.Encode()
	out, err = McsmtEstimator{}.Estimate([]float64{1, 1}, [][]float64{c, d})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, model.DecodeMcsmt(out).Diff, 1e-12)
}

func TestLine(t *testing.T) {
	line := []float64{0, 0.6, 0.8}
	out, err := LineEstimator{}.Estimate([]float64{1, 1}, [][]float64{line, line})
	require.NoError(t, err)
	assert.InDeltaSlice(t, line, out, 1e-9)

	// opposite signs describe the same axis, the heaviest sample sets the sign
	out, err = LineEstimator{}.Estimate([]float64{1, 2}, [][]float64{{1, 0, 0}, {-1, 0, 0}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 0, 0}, out, 1e-9)

	out, err = LineEstimator{}.Estimate([]float64{1, 1}, [][]float64{{0, 0, 0}, {0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, model.LineCodec{}.Empty(), out)
}

func TestAxialMeanSpread(t *testing.T) {
	lines := [][]float64{
		{1, 0.1, 0},
		{-1, 0.1, 0},
		{1, -0.1, 0},
		{-1, -0.1, 0},
	}
	axis := axialMean(lines, []float64{1, 1, 1, 1})
	require.NotNil(t, axis)
	assert.InDelta(t, 1.0, math.Abs(axis[0]), 1e-9)
	assert.InDelta(t, 1.0, floats.Norm(axis, 2), 1e-12)
}

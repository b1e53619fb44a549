package kernel

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qitkit/internal/models"
	"qitkit/pkg/config"
	"qitkit/pkg/estimation"
	"qitkit/pkg/model"
)

// testVolume builds a 3x3x3 volume of mcsmt models whose baseline encodes
// the voxel index as i + 10j + 100k.
func testVolume(t *testing.T) *models.Volume {
	t.Helper()
	vol := models.NewVolume(3, 3, 3, model.McsmtSize)
	for k := 0; k < 3; k++ {
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				enc := model.Mcsmt{Base: baseline(i, j, k), Frac: 0.5, Diff: 1e-3}.Encode()
				require.NoError(t, vol.Set(models.Sample{I: i, J: j, K: k}, enc))
			}
		}
	}
	return vol
}

func baseline(i, j, k int) float64 {
	return float64(i + 10*j + 100*k)
}

func newTestKernel(t *testing.T, interp string) *Estimator {
	t.Helper()
	cfg := config.DefaultConfig().Kernel
	cfg.Interp = interp
	k, err := New(testVolume(t), estimation.McsmtEstimator{}, cfg, nil)
	require.NoError(t, err)
	return k
}

type failingEstimator struct{}

func (failingEstimator) Codec() model.Codec { return model.McsmtCodec{} }

func (failingEstimator) Estimate([]float64, [][]float64) ([]float64, error) {
	return nil, errors.New("no consensus")
}

func TestParseInterp(t *testing.T) {
	for _, interp := range []Interp{Nearest, Trilinear, Gaussian} {
		got, err := ParseInterp(interp.String())
		require.NoError(t, err)
		assert.Equal(t, interp, got)
	}
	_, err := ParseInterp("cubic")
	assert.ErrorIs(t, err, ErrInvalidKernel)
}

func TestNewRejectsMismatchedVolume(t *testing.T) {
	vol := models.NewVolume(2, 2, 2, model.TensorSize)
	_, err := New(vol, estimation.McsmtEstimator{}, config.DefaultConfig().Kernel, nil)
	assert.ErrorIs(t, err, ErrInvalidKernel)
}

// TestTrilinearAtVoxelCenter verifies that a query at a voxel center
// reproduces the stored encoding
func TestTrilinearAtVoxelCenter(t *testing.T) {
	k := newTestKernel(t, "trilinear")
	s := models.Sample{I: 1, J: 2, K: 0}

	out, err := k.Estimate(k.Volume.World(s))
	require.NoError(t, err)
	assert.Equal(t, k.Volume.Get(s), out)

	// the far corner has no neighbours beyond it
	last := models.Sample{I: 2, J: 2, K: 2}
	out, err = k.Estimate(k.Volume.World(last))
	require.NoError(t, err)
	assert.Equal(t, k.Volume.Get(last), out)
}

func TestTrilinearBlends(t *testing.T) {
	k := newTestKernel(t, "trilinear")

	out, err := k.Estimate([]float64{1.5, 1, 1})
	require.NoError(t, err)
	got := model.DecodeMcsmt(out)
	assert.InDelta(t, 111.5, got.Base, 1e-9)
	assert.InDelta(t, 1e-3, got.Diff, 1e-12)

	out, err = k.Estimate([]float64{0.25, 0.5, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.25+5, model.DecodeMcsmt(out).Base, 1e-9)
}

func TestOutsideVolumeIsZero(t *testing.T) {
	for _, interp := range []string{"nearest", "trilinear", "gaussian"} {
		k := newTestKernel(t, interp)
		out, err := k.Estimate([]float64{-5, 0, 0})
		require.NoError(t, err, interp)
		assert.Equal(t, make([]float64, model.McsmtSize), out, interp)
	}
}

func TestNearest(t *testing.T) {
	k := newTestKernel(t, "nearest")

	out, err := k.Estimate([]float64{1.4, 0.6, 2.2})
	require.NoError(t, err)
	assert.Equal(t, baseline(1, 1, 2), out[0])

	k.Volume.Mask = make([]bool, 27)
	out, err = k.Estimate([]float64{1, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, make([]float64, model.McsmtSize), out)
}

// TestGaussianSymmetric verifies that a full symmetric neighbourhood
// preserves a linear field
func TestGaussianSymmetric(t *testing.T) {
	k := newTestKernel(t, "gaussian")
	out, n, err := k.estimate([]float64{1, 1, 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 27, n)
	assert.InDelta(t, baseline(1, 1, 1), out[0], 1e-9)

	// the corner sees only the voxels inside the volume
	_, n, err = k.estimate([]float64{0, 0, 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

// TestGaussianReference verifies that the baseline term concentrates the
// weight on voxels matching the reference
func TestGaussianReference(t *testing.T) {
	k := newTestKernel(t, "gaussian")
	k.HSig = 1e-3

	ref := k.Volume.Get(models.Sample{I: 0, J: 1, K: 1})
	out, err := k.EstimateWithReference([]float64{1, 1, 1}, ref)
	require.NoError(t, err)
	assert.InDelta(t, baseline(0, 1, 1), out[0], 1e-9)

	// without a reference the term is ignored
	out, err = k.Estimate([]float64{1, 1, 1})
	require.NoError(t, err)
	assert.InDelta(t, baseline(1, 1, 1), out[0], 1e-9)
}

// TestGaussianModelDistance verifies that the model term decays with the
// plain codec distance to the reference
func TestGaussianModelDistance(t *testing.T) {
	vol := models.NewVolume(2, 1, 1, model.McsmtSize)
	near := model.Mcsmt{Base: 0, Frac: 0.2, Diff: 1e-3}.Encode()
	far := model.Mcsmt{Base: 10, Frac: 0.6, Diff: 1e-3}.Encode()
	require.NoError(t, vol.Set(models.Sample{I: 0}, near))
	require.NoError(t, vol.Set(models.Sample{I: 1}, far))

	cfg := config.DefaultConfig().Kernel
	cfg.Interp = "gaussian"
	cfg.HVal = 0.5
	cfg.HSig = 0
	k, err := New(vol, estimation.McsmtEstimator{}, cfg, nil)
	require.NoError(t, err)

	// both voxels sit half a voxel away, so only the model term differs
	out, err := k.EstimateWithReference([]float64{0.5, 0, 0}, near)
	require.NoError(t, err)
	w := math.Exp(-0.4 / 0.25)
	assert.InDelta(t, 10*w/(1+w), out[0], 1e-9)
}

func TestEstimateAll(t *testing.T) {
	k := newTestKernel(t, "trilinear")

	var coords [][]float64
	var want [][]float64
	for kk := 0; kk < 3; kk++ {
		for j := 0; j < 3; j++ {
			for i := 0; i < 3; i++ {
				s := models.Sample{I: i, J: j, K: kk}
				coords = append(coords, k.Volume.World(s))
				want = append(want, k.Volume.Get(s))
			}
		}
	}
	coords = append(coords, []float64{10, 10, 10})
	want = append(want, make([]float64, model.McsmtSize))

	batch, err := k.EstimateAll(context.Background(), coords, 4)
	require.NoError(t, err)
	assert.Equal(t, want, batch.Values)
	assert.Equal(t, 28, batch.Neighbors.Num)
	assert.Equal(t, 0.0, batch.Neighbors.Min)
	assert.Equal(t, 1.0, batch.Neighbors.Max)
}

func TestEstimateAllCancelled(t *testing.T) {
	k := newTestKernel(t, "trilinear")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := k.EstimateAll(ctx, [][]float64{{0, 0, 0}, {1, 1, 1}}, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEstimateAllError(t *testing.T) {
	k := newTestKernel(t, "trilinear")
	k.Estimator = failingEstimator{}

	_, err := k.EstimateAll(context.Background(), [][]float64{{0, 0, 0}, {0.5, 0, 0}}, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no consensus")
}

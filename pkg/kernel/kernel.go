// Package kernel evaluates a model estimator at continuous positions of a
// volume of model encodings, weighting the neighbouring voxels with a
// nearest, trilinear or gaussian kernel.
package kernel

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"qitkit/internal/models"
	"qitkit/pkg/config"
	"qitkit/pkg/estimation"
	"qitkit/pkg/logging"
	"qitkit/pkg/model"
)

// ErrInvalidKernel is returned for unusable kernel settings.
var ErrInvalidKernel = errors.New("kernel: invalid settings")

// Interp selects the interpolation kernel.
type Interp int

const (
	// Nearest copies the closest voxel
	Nearest Interp = iota

	// Trilinear blends the eight surrounding voxels
	Trilinear

	// Gaussian blends every voxel within Support of the closest one
	Gaussian
)

func (i Interp) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Trilinear:
		return "trilinear"
	case Gaussian:
		return "gaussian"
	}
	return fmt.Sprintf("Interp(%d)", int(i))
}

// ParseInterp parses an interpolation name.
func ParseInterp(name string) (Interp, error) {
	switch strings.ToLower(name) {
	case "nearest":
		return Nearest, nil
	case "", "trilinear":
		return Trilinear, nil
	case "gaussian":
		return Gaussian, nil
	}
	return 0, fmt.Errorf("%w: interpolation %q", ErrInvalidKernel, name)
}

// Estimator evaluates Estimator over the voxels of Volume near a world
// coordinate.
type Estimator struct {
	Volume    *models.Volume
	Estimator estimation.Estimator
	Interp    Interp

	// Support is the voxel radius of the gaussian kernel
	Support int

	// HPos is the spatial bandwidth of the gaussian kernel in mm
	HPos float64

	// HVal is the bandwidth over model distances to the reference, zero
	// disables it
	HVal float64

	// HSig is the bandwidth over baseline signal differences to the
	// reference, zero disables it
	HSig float64

	Logger *zap.Logger
}

// New builds a kernel estimator from its configuration. The volume must
// store encodings of the estimator's model.
func New(vol *models.Volume, est estimation.Estimator, cfg config.Kernel, logger *zap.Logger) (*Estimator, error) {
	interp, err := ParseInterp(cfg.Interp)
	if err != nil {
		return nil, err
	}
	k := &Estimator{
		Volume:    vol,
		Estimator: est,
		Interp:    interp,
		Support:   cfg.Support,
		HPos:      cfg.HPos,
		HVal:      cfg.HVal,
		HSig:      cfg.HSig,
		Logger:    logger,
	}
	if err := k.validate(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Estimator) validate() error {
	if k.Volume == nil || k.Estimator == nil {
		return fmt.Errorf("%w: missing volume or estimator", ErrInvalidKernel)
	}
	if size := k.codec().Size(); k.Volume.Channels != size {
		return fmt.Errorf("%w: volume has %d channels, %s encodings have %d",
			ErrInvalidKernel, k.Volume.Channels, k.codec().Name(), size)
	}
	if k.Interp == Gaussian && (k.HPos <= 0 || k.Support < 0) {
		return fmt.Errorf("%w: gaussian kernel needs hpos > 0 and support >= 0, got %g and %d",
			ErrInvalidKernel, k.HPos, k.Support)
	}
	return nil
}

func (k *Estimator) codec() model.Codec {
	return k.Estimator.Codec()
}

func (k *Estimator) zero() []float64 {
	return make([]float64, k.codec().Size())
}

// Estimate returns the consensus encoding at a world coordinate. Positions
// without valid neighbours yield a zero vector.
func (k *Estimator) Estimate(coord []float64) ([]float64, error) {
	out, _, err := k.estimate(coord, nil)
	return out, err
}

// EstimateWithReference is Estimate with a reference encoding for the
// model and baseline terms of the gaussian kernel.
func (k *Estimator) EstimateWithReference(coord, ref []float64) ([]float64, error) {
	out, _, err := k.estimate(coord, ref)
	return out, err
}

// estimate also reports how many voxels contributed.
func (k *Estimator) estimate(coord, ref []float64) ([]float64, int, error) {
	if len(coord) != 3 {
		panic(fmt.Sprintf("kernel: coordinate has %d values, want 3", len(coord)))
	}

	switch k.Interp {
	case Nearest:
		return k.nearest(coord)
	case Gaussian:
		return k.gaussian(coord, ref)
	default:
		return k.trilinear(coord)
	}
}

func (k *Estimator) nearest(coord []float64) ([]float64, int, error) {
	s := k.Volume.Nearest(coord)
	if !k.Volume.Valid(s) {
		return k.zero(), 0, nil
	}
	return k.Volume.Get(s), 1, nil
}

// triangle is the linear interpolation kernel.
func triangle(x float64) float64 {
	return math.Max(0, 1-math.Abs(x))
}

func (k *Estimator) trilinear(coord []float64) ([]float64, int, error) {
	c := k.Volume.Voxel(coord)
	var base [3]int
	var w [3][2]float64
	for d := 0; d < 3; d++ {
		base[d] = int(math.Floor(c[d]))
		frac := c[d] - float64(base[d])
		w[d][0] = triangle(frac)
		w[d][1] = triangle(1 - frac)
	}
	if !k.Volume.Contains(base[0], base[1], base[2]) {
		return k.zero(), 0, nil
	}

	var weights []float64
	var encodings [][]float64
	for dk := 0; dk < 2; dk++ {
		for dj := 0; dj < 2; dj++ {
			for di := 0; di < 2; di++ {
				weight := w[0][di] * w[1][dj] * w[2][dk]
				s := models.Sample{I: base[0] + di, J: base[1] + dj, K: base[2] + dk}
				if weight <= 0 || !k.Volume.Valid(s) {
					continue
				}
				weights = append(weights, weight)
				encodings = append(encodings, k.Volume.Get(s))
			}
		}
	}
	return k.reduce(weights, encodings)
}

func (k *Estimator) gaussian(coord, ref []float64) ([]float64, int, error) {
	codec := k.codec()
	center := k.Volume.Nearest(coord)
	h2 := k.HPos * k.HPos

	var weights []float64
	var encodings [][]float64
	for dk := -k.Support; dk <= k.Support; dk++ {
		for dj := -k.Support; dj <= k.Support; dj++ {
			for di := -k.Support; di <= k.Support; di++ {
				s := models.Sample{I: center.I + di, J: center.J + dj, K: center.K + dk}
				if !k.Volume.Valid(s) {
					continue
				}
				enc := k.Volume.Get(s)

				dpos := floats.Distance(k.Volume.World(s), coord, 2)
				weight := math.Exp(-dpos * dpos / h2)
				if ref != nil && k.HVal > 0 {
					d := codec.Distance(ref, enc)
					weight *= math.Exp(-d / (k.HVal * k.HVal))
				}
				if ref != nil && k.HSig > 0 {
					d := codec.Baseline(ref) - codec.Baseline(enc)
					weight *= math.Exp(-d * d / (k.HSig * k.HSig))
				}

				weights = append(weights, weight)
				encodings = append(encodings, enc)
			}
		}
	}
	return k.reduce(weights, encodings)
}

// reduce normalizes the weights and runs the model estimator. A single
// contributing voxel is returned as is.
func (k *Estimator) reduce(weights []float64, encodings [][]float64) ([]float64, int, error) {
	sum := floats.Sum(weights)
	if len(weights) == 0 || sum <= 0 || math.IsNaN(sum) {
		return k.zero(), 0, nil
	}
	if len(weights) == 1 {
		return append([]float64(nil), encodings[0]...), 1, nil
	}

	floats.Scale(1/sum, weights)
	out, err := k.Estimator.Estimate(weights, encodings)
	if err != nil {
		logging.OrNop(k.Logger).Debug("kernel estimation failed",
			zap.Int("neighbors", len(weights)), zap.Error(err))
		return nil, len(weights), err
	}
	return out, len(weights), nil
}

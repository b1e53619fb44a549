package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/fitting"
	"qitkit/pkg/linalg"
)

const (
	NoddiName = "noddi"
	NoddiSize = 8
)

// Noddi is a neurite orientation dispersion and density model. Its encoding
// is base ficvf fiso kappa dx dy dz irfrac.
type Noddi struct {
	Base   float64
	ICVF   float64
	ISO    float64
	Kappa  float64
	Dir    []float64
	IRFrac float64
}

// EmptyNoddi is the model of a voxel without neurites: fully isotropic with
// unit concentration along x.
func EmptyNoddi() Noddi {
	return Noddi{ISO: 1, Kappa: 1, Dir: []float64{1, 0, 0}}
}

// DecodeNoddi unpacks a NODDI encoding.
func DecodeNoddi(enc []float64) Noddi {
	checkSize(NoddiName, enc, NoddiSize)
	return Noddi{
		Base:   enc[0],
		ICVF:   enc[1],
		ISO:    enc[2],
		Kappa:  enc[3],
		Dir:    []float64{enc[4], enc[5], enc[6]},
		IRFrac: enc[7],
	}
}

// Encode packs the model.
func (n Noddi) Encode() []float64 {
	return []float64{n.Base, n.ICVF, n.ISO, n.Kappa, n.Dir[0], n.Dir[1], n.Dir[2], n.IRFrac}
}

// ODI returns the orientation dispersion index of the model.
func (n Noddi) ODI() float64 {
	return KappaToODI(n.Kappa)
}

// KappaToODI maps a Watson concentration to an orientation dispersion index
// in [0, 1].
func KappaToODI(kappa float64) float64 {
	return (2 / math.Pi) * math.Atan2(1, math.Abs(kappa))
}

// ODIToKappa inverts KappaToODI.
func ODIToKappa(odi float64) float64 {
	s := 1.0
	if odi < 0 {
		s = -1
	}
	k := s / math.Tan(s*math.Pi*odi/2)
	if math.IsInf(k, 0) {
		return math.MaxFloat64
	}
	return k
}

// Scatter returns the expected scatter matrix of the fiber orientations,
// with eigenvalues lambda(kappa) along Dir and the remainder split evenly
// across it. With log set the eigenvalues are log transformed.
func (n Noddi) Scatter(log bool) *mat.SymDense {
	return KappaToScatter(n.Dir, n.Kappa, log)
}

// KappaToScatter builds the scatter matrix of a Watson distribution.
func KappaToScatter(dir []float64, kappa float64, log bool) *mat.SymDense {
	if math.IsInf(kappa, 1) {
		kappa = math.MaxFloat64
	}
	l1 := fitting.LambdaWatson(kappa)
	l2 := (1 - l1) / 2
	if log {
		l1 = math.Log(l1 + linalg.Delta)
		l2 = math.Log(l2 + linalg.Delta)
	}

	v1 := linalg.Normalize(dir)
	v2 := linalg.Perp(v1)
	v3 := linalg.Cross(v1, v2)
	return linalg.Compose([]float64{l1, l2, l2}, [][]float64{v1, v2, v3})
}

// NoddiCodec describes the "noddi" encoding.
type NoddiCodec struct{}

func (NoddiCodec) Name() string { return NoddiName }
func (NoddiCodec) Size() int    { return NoddiSize }

func (NoddiCodec) Baseline(enc []float64) float64 {
	checkSize(NoddiName, enc, NoddiSize)
	return enc[0]
}

// Distance combines the compartment fraction differences with the
// Frobenius distance of the scatter matrices.
func (NoddiCodec) Distance(a, b []float64) float64 {
	na, nb := DecodeNoddi(a), DecodeNoddi(b)
	diso := na.ISO - nb.ISO
	dicvf := na.ICVF - nb.ICVF
	dmat := symDistance(na.Scatter(false), nb.Scatter(false))
	return math.Sqrt(diso*diso + dicvf*dicvf + dmat*dmat)
}

func (NoddiCodec) Empty() []float64 {
	return EmptyNoddi().Encode()
}

package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/linalg"
)

const (
	TensorName   = "dti"
	TensorSize   = 8
	BiTensorName = "bdti"
	BiTensorSize = 15
)

// tensor elements in encoding order
var tensorOrder = [6][2]int{{0, 0}, {0, 1}, {1, 1}, {0, 2}, {1, 2}, {2, 2}}

func decodeSym(vals []float64) *mat.SymDense {
	m := mat.NewSymDense(3, nil)
	for i, ij := range tensorOrder {
		m.SetSym(ij[0], ij[1], vals[i])
	}
	return m
}

func encodeSym(dst []float64, m mat.Symmetric) {
	for i, ij := range tensorOrder {
		dst[i] = m.At(ij[0], ij[1])
	}
}

// Tensor is a single diffusion tensor with a free water fraction. Its
// encoding is s0 xx xy yy xz yz zz fw.
type Tensor struct {
	S0 float64
	D  *mat.SymDense
	FW float64
}

// DecodeTensor unpacks a tensor encoding.
func DecodeTensor(enc []float64) Tensor {
	checkSize(TensorName, enc, TensorSize)
	return Tensor{S0: enc[0], D: decodeSym(enc[1:7]), FW: enc[7]}
}

// Encode packs the tensor.
func (t Tensor) Encode() []float64 {
	out := make([]float64, TensorSize)
	out[0] = t.S0
	encodeSym(out[1:7], t.D)
	out[7] = t.FW
	return out
}

// FA returns the fractional anisotropy.
func (t Tensor) FA() float64 {
	eig, ok := linalg.Eig(t.D)
	if !ok {
		return 0
	}
	return fractionalAnisotropy(eig.Values)
}

// MD returns the mean diffusivity.
func (t Tensor) MD() float64 {
	return mat.Trace(t.D) / 3
}

func fractionalAnisotropy(vals []float64) float64 {
	l1, l2, l3 := vals[0], vals[1], vals[2]
	den := l1*l1 + l2*l2 + l3*l3
	if den <= 0 {
		return 0
	}
	num := (l1-l2)*(l1-l2) + (l2-l3)*(l2-l3) + (l3-l1)*(l3-l1)
	return math.Sqrt(0.5 * num / den)
}

// TensorCodec describes the "dti" encoding.
type TensorCodec struct{}

func (TensorCodec) Name() string { return TensorName }
func (TensorCodec) Size() int    { return TensorSize }

func (TensorCodec) Baseline(enc []float64) float64 {
	checkSize(TensorName, enc, TensorSize)
	return enc[0]
}

// Distance is the Frobenius norm of the difference of the tensors.
func (TensorCodec) Distance(a, b []float64) float64 {
	return symDistance(DecodeTensor(a).D, DecodeTensor(b).D)
}

func (TensorCodec) Empty() []float64 {
	return make([]float64, TensorSize)
}

func symDistance(a, b mat.Symmetric) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	return mat.Norm(&diff, 2)
}

// BiTensor holds a tissue and a fluid tensor. Its encoding is s0 dot frac
// followed by the tissue and fluid elements in tensor order.
type BiTensor struct {
	S0     float64
	Dot    float64
	Frac   float64
	Tissue *mat.SymDense
	Fluid  *mat.SymDense
}

// DecodeBiTensor unpacks a bi-tensor encoding.
func DecodeBiTensor(enc []float64) BiTensor {
	checkSize(BiTensorName, enc, BiTensorSize)
	return BiTensor{
		S0:     enc[0],
		Dot:    enc[1],
		Frac:   enc[2],
		Tissue: decodeSym(enc[3:9]),
		Fluid:  decodeSym(enc[9:15]),
	}
}

// Encode packs the bi-tensor.
func (t BiTensor) Encode() []float64 {
	out := make([]float64, BiTensorSize)
	out[0], out[1], out[2] = t.S0, t.Dot, t.Frac
	encodeSym(out[3:9], t.Tissue)
	encodeSym(out[9:15], t.Fluid)
	return out
}

// BiTensorCodec describes the "bdti" encoding.
type BiTensorCodec struct{}

func (BiTensorCodec) Name() string { return BiTensorName }
func (BiTensorCodec) Size() int    { return BiTensorSize }

func (BiTensorCodec) Baseline(enc []float64) float64 {
	checkSize(BiTensorName, enc, BiTensorSize)
	return enc[0]
}

// Distance blends the tissue and fluid tensor distances by the mean fluid
// fraction and adds the fraction difference.
func (BiTensorCodec) Distance(a, b []float64) float64 {
	ta, tb := DecodeBiTensor(a), DecodeBiTensor(b)
	frac := 0.5 * (ta.Frac + tb.Frac)
	tissue := symDistance(ta.Tissue, tb.Tissue)
	fluid := symDistance(ta.Fluid, tb.Fluid)
	return math.Abs(ta.Frac-tb.Frac) + (1-frac)*tissue + frac*fluid
}

func (BiTensorCodec) Empty() []float64 {
	return make([]float64, BiTensorSize)
}

package estimation

import (
	"gonum.org/v1/gonum/mat"

	"qitkit/pkg/linalg"
	"qitkit/pkg/model"
)

func newScatter() *mat.SymDense {
	return mat.NewSymDense(3, nil)
}

// TensorEstimator averages diffusion tensors.
type TensorEstimator struct {
	// LogEuclidean averages matrix logarithms when every tensor is
	// positive definite
	LogEuclidean bool
}

func (TensorEstimator) Codec() model.Codec { return model.TensorCodec{} }

func (e TensorEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	sumw, err := checkInputs(weights, encodings, model.TensorSize)
	if err != nil {
		return nil, err
	}
	if linalg.Zero(sumw) {
		return model.TensorCodec{}.Empty(), nil
	}

	ds := make([]*mat.SymDense, len(encodings))
	for i, enc := range encodings {
		ds[i] = model.DecodeTensor(enc).D
	}

	out := model.Tensor{
		S0: weightedMean(column(encodings, 0), weights),
		D:  meanTensor(ds, weights, e.LogEuclidean),
		FW: weightedMean(column(encodings, 7), weights),
	}
	return out.Encode(), nil
}

// BiTensorEstimator averages tissue and fluid tensors separately.
type BiTensorEstimator struct {
	LogEuclidean bool
}

func (BiTensorEstimator) Codec() model.Codec { return model.BiTensorCodec{} }

func (e BiTensorEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	sumw, err := checkInputs(weights, encodings, model.BiTensorSize)
	if err != nil {
		return nil, err
	}
	if linalg.Zero(sumw) {
		return model.BiTensorCodec{}.Empty(), nil
	}

	tissue := make([]*mat.SymDense, len(encodings))
	fluid := make([]*mat.SymDense, len(encodings))
	for i, enc := range encodings {
		bt := model.DecodeBiTensor(enc)
		tissue[i], fluid[i] = bt.Tissue, bt.Fluid
	}

	out := model.BiTensor{
		S0:     weightedMean(column(encodings, 0), weights),
		Dot:    weightedMean(column(encodings, 1), weights),
		Frac:   weightedMean(column(encodings, 2), weights),
		Tissue: meanTensor(tissue, weights, e.LogEuclidean),
		Fluid:  meanTensor(fluid, weights, e.LogEuclidean),
	}
	return out.Encode(), nil
}

// meanTensor returns the weighted mean of symmetric matrices, in log space
// when requested and possible, linearly otherwise. Only tensors with
// positive weight take part.
func meanTensor(ds []*mat.SymDense, weights []float64, logEuclidean bool) *mat.SymDense {
	if logEuclidean {
		if m, ok := logMean(ds, weights); ok {
			return m
		}
	}
	return linearMean(ds, weights)
}

func linearMean(ds []*mat.SymDense, weights []float64) *mat.SymDense {
	var sumw float64
	out := newScatter()
	for i, d := range ds {
		if weights[i] <= 0 {
			continue
		}
		out.AddSym(out, scaled(d, weights[i]))
		sumw += weights[i]
	}
	out.ScaleSym(1/sumw, out)
	return out
}

func logMean(ds []*mat.SymDense, weights []float64) (*mat.SymDense, bool) {
	var sumw float64
	sum := newScatter()
	for i, d := range ds {
		if weights[i] <= 0 {
			continue
		}
		l, ok := linalg.LogSym(d)
		if !ok {
			return nil, false
		}
		sum.AddSym(sum, scaled(l, weights[i]))
		sumw += weights[i]
	}
	sum.ScaleSym(1/sumw, sum)
	return linalg.ExpSym(sum)
}

func scaled(m mat.Symmetric, w float64) *mat.SymDense {
	out := newScatter()
	out.ScaleSym(w, m)
	return out
}

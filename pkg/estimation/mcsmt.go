package estimation

import (
	"qitkit/pkg/linalg"
	"qitkit/pkg/model"
)

// McsmtEstimator averages spherical mean models. Diffusivities are averaged
// geometrically.
type McsmtEstimator struct{}

func (McsmtEstimator) Codec() model.Codec { return model.McsmtCodec{} }

func (McsmtEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	sumw, err := checkInputs(weights, encodings, model.McsmtSize)
	if err != nil {
		return nil, err
	}
	if linalg.Zero(sumw) {
		return model.McsmtCodec{}.Empty(), nil
	}

	out := model.Mcsmt{
		Base: weightedMean(column(encodings, 0), weights),
		Frac: weightedMean(column(encodings, 1), weights),
		Diff: geometricMean(column(encodings, 2), weights),
		Dot:  weightedMean(column(encodings, 3), weights),
	}
	return out.Encode(), nil
}

package estimation

import (
	"qitkit/pkg/linalg"
	"qitkit/pkg/model"
)

// LineEstimator averages sign-ambiguous axes.
type LineEstimator struct{}

func (LineEstimator) Codec() model.Codec { return model.LineCodec{} }

func (LineEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	sumw, err := checkInputs(weights, encodings, model.LineSize)
	if err != nil {
		return nil, err
	}
	if linalg.Zero(sumw) {
		return model.LineCodec{}.Empty(), nil
	}

	axis := axialMean(encodings, weights)
	if axis == nil {
		return model.LineCodec{}.Empty(), nil
	}
	return axis, nil
}

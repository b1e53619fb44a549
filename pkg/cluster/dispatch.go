package cluster

import (
	"fmt"

	"qitkit/pkg/fitting"
)

// Params holds the variant specific settings used by Run.
type Params struct {
	Gaussian fitting.GaussianFitter
	Watson   fitting.WatsonFitter

	// Alpha and Beta weigh the spatial axial distance
	Alpha float64
	Beta  float64

	// Eps bounds Bernoulli probabilities
	Eps float64
}

// Run clusters vects with the variant named by kind and returns the sample
// labels along with the variant's result, which WriteTable accepts.
func Run(kind Kind, cfg Config, p Params, vects [][]float64, weights []float64) ([]int, any, error) {
	switch kind {
	case KindKMeans:
		r, err := KMeans{Config: cfg}.Run(vects, weights)
		return labelsOf(r, err)
	case KindAxialKMeans:
		r, err := AxialKMeans{Config: cfg}.Run(vects, weights)
		return labelsOf(r, err)
	case KindSpatialAxialKMeans:
		r, err := SpatialAxialKMeans{Config: cfg, Alpha: p.Alpha, Beta: p.Beta}.Run(vects, weights)
		return labelsOf(r, err)
	case KindGaussianMixture:
		r, err := GaussianMixture{Config: cfg, Fitter: p.Gaussian}.Run(vects, weights)
		if err != nil {
			return nil, nil, err
		}
		return r.Labels, r, nil
	case KindWatsonMixture:
		r, err := WatsonMixture{Config: cfg, Fitter: p.Watson}.Run(vects, weights)
		if err != nil {
			return nil, nil, err
		}
		return r.Labels, r, nil
	case KindGaussianWatsonMixture:
		r, err := GaussianWatsonMixture{Config: cfg, Gaussian: p.Gaussian, Watson: p.Watson, Alpha: p.Alpha, Beta: p.Beta}.Run(vects, weights)
		if err != nil {
			return nil, nil, err
		}
		return r.Labels, r, nil
	case KindBernoulliMixture:
		r, err := BernoulliMixture{Config: cfg, Eps: p.Eps}.Run(vects, weights)
		if err != nil {
			return nil, nil, err
		}
		return r.Labels, r, nil
	default:
		return nil, nil, fmt.Errorf("%w: clustering method %s", ErrUnsupported, kind)
	}
}

func labelsOf(r *KMeansResult, err error) ([]int, any, error) {
	if err != nil {
		return nil, nil, err
	}
	return r.Labels, r, nil
}

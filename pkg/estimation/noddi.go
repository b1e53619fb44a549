package estimation

import (
	"fmt"
	"math"
	"strings"

	"qitkit/pkg/fitting"
	"qitkit/pkg/linalg"
	"qitkit/pkg/model"
)

// NODDI consensus strategies.
const (
	NoddiComponent       = "Component"
	NoddiRankOne         = "RankOne"
	NoddiScatter         = "Scatter"
	NoddiLogScatter      = "LogScatter"
	NoddiScatterSplineL0 = "ScatterSplineL0"
	NoddiScatterSplineC0 = "ScatterSplineC0"
	NoddiScatterSplineC1 = "ScatterSplineC1"
	NoddiScatterSplineC2 = "ScatterSplineC2"
	NoddiScatterSplineS0 = "ScatterSplineS0"
	NoddiScatterSplineS1 = "ScatterSplineS1"
	NoddiScatterSplineS2 = "ScatterSplineS2"

	// NoddiWeighted prefixes a strategy to weigh samples by their
	// intra-cellular and non-isotropic fractions
	NoddiWeighted = "Weighted"
)

// NoddiMethods lists the strategies accepted by NewNoddiEstimator, without
// the Weighted prefix.
var NoddiMethods = []string{
	NoddiComponent, NoddiRankOne, NoddiScatter, NoddiLogScatter,
	NoddiScatterSplineL0, NoddiScatterSplineC0, NoddiScatterSplineC1, NoddiScatterSplineC2,
	NoddiScatterSplineS0, NoddiScatterSplineS1, NoddiScatterSplineS2,
}

// NoddiEstimator averages NODDI models.
type NoddiEstimator struct {
	Method string

	// Beta bounds the eigenvalue gap ratio under which the scatter splines
	// blend towards an isotropic concentration
	Beta float64

	WeightICVF bool
	WeightISO  bool
}

// NewNoddiEstimator parses a strategy name, optionally prefixed with
// Weighted.
func NewNoddiEstimator(method string) (*NoddiEstimator, error) {
	e := &NoddiEstimator{Beta: 0.05}
	if rest := strings.TrimPrefix(method, NoddiWeighted); rest != method {
		e.WeightICVF, e.WeightISO = true, true
		method = rest
	}
	for _, m := range NoddiMethods {
		if m == method {
			e.Method = m
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: noddi method %q", ErrUnsupported, method)
}

func (*NoddiEstimator) Codec() model.Codec { return model.NoddiCodec{} }

func (e *NoddiEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	if _, err := checkInputs(weights, encodings, model.NoddiSize); err != nil {
		return nil, err
	}

	models := make([]model.Noddi, len(encodings))
	w := make([]float64, len(encodings))
	var sumw float64
	heaviest := 0
	for i, enc := range encodings {
		models[i] = model.DecodeNoddi(enc)
		w[i] = weights[i]
		if e.WeightICVF {
			w[i] *= models[i].ICVF
		}
		if e.WeightISO {
			w[i] *= 1 - models[i].ISO
		}
		sumw += w[i]
		if w[i] > w[heaviest] {
			heaviest = i
		}
	}
	if linalg.Zero(sumw) {
		return model.EmptyNoddi().Encode(), nil
	}

	var base, icvf, iso, irfrac float64
	for i, m := range models {
		base += w[i] * m.Base
		icvf += w[i] * m.ICVF
		iso += w[i] * m.ISO
		irfrac += w[i] * m.IRFrac
	}

	// direction and concentration keep their empty values when the
	// strategy cannot determine them
	out := model.EmptyNoddi()
	out.Base = base / sumw
	out.ICVF = icvf / sumw
	out.ISO = iso / sumw
	out.IRFrac = irfrac / sumw

	// eigenvectors carry no sign, so the direction is turned towards the
	// heaviest sample
	ref := models[heaviest].Dir
	switch e.Method {
	case NoddiComponent:
		e.component(&out, models, w, sumw, ref)
	case NoddiRankOne:
		e.rankOne(&out, models, w, sumw, ref)
	default:
		e.scatter(&out, models, w, sumw, ref)
	}
	return out.Encode(), nil
}

// component averages the dispersion index and the dyadic direction.
func (e *NoddiEstimator) component(out *model.Noddi, models []model.Noddi, w []float64, sumw float64, ref []float64) {
	var odi float64
	dyadic := newScatter()
	for i, m := range models {
		v := m.ODI()
		if math.IsNaN(v) {
			v = 0
		}
		odi += w[i] * v
		linalg.AddDyadic(dyadic, w[i], m.Dir)
	}

	out.Kappa = model.ODIToKappa(odi / sumw)
	if eig, ok := linalg.Eig(dyadic); ok {
		out.Dir = eig.Vectors[0]
		linalg.Orient(out.Dir, ref)
	}
}

// rankOne averages the concentration scaled dyadics and reads the
// direction and concentration from the top eigenpair.
func (e *NoddiEstimator) rankOne(out *model.Noddi, models []model.Noddi, w []float64, sumw float64, ref []float64) {
	dyadic := newScatter()
	for i, m := range models {
		linalg.AddDyadic(dyadic, w[i]*m.Kappa/sumw, m.Dir)
	}
	if eig, ok := linalg.Eig(dyadic); ok {
		out.Dir = eig.Vectors[0]
		linalg.Orient(out.Dir, ref)
		out.Kappa = eig.Values[0]
	}
}

// scatter averages the scatter matrices and inverts the principal
// eigenvalue to a concentration. The spline variants blend the principal
// eigenvalue towards the mean eigenvalue when the spectrum is closer to
// planar than to bipolar.
func (e *NoddiEstimator) scatter(out *model.Noddi, models []model.Noddi, w []float64, sumw float64, ref []float64) {
	logScatter := e.Method == NoddiLogScatter

	sum := newScatter()
	for i, m := range models {
		sum.AddSym(sum, scaled(m.Scatter(logScatter), w[i]/sumw))
	}

	eig, ok := linalg.Eig(sum)
	if !ok {
		return
	}
	val1, val2, val3 := eig.Values[0], eig.Values[1], eig.Values[2]
	if logScatter {
		val1, val2, val3 = math.Exp(val1), math.Exp(val2), math.Exp(val3)
	}
	out.Dir = eig.Vectors[0]
	linalg.Orient(out.Dir, ref)

	val12 := val1 - val2
	val23 := val2 - val3
	ratio := val12 / val23 / e.Beta

	if linalg.Zero(val12) {
		out.Kappa = 0
		return
	}

	target := val1
	if ratio <= 1 {
		if alpha, ok := splineAlpha(e.Method, ratio); ok {
			mean := (val1 + val2 + val3) / 3
			target = alpha*mean + (1-alpha)*val1
		}
	}
	if kappa, ok := fitting.KappaWatson(target); ok {
		out.Kappa = kappa
	}
}

// splineAlpha returns the blending weight of the mean eigenvalue. ok is
// false for the plain scatter strategies.
func splineAlpha(method string, ratio float64) (float64, bool) {
	e := 1 - ratio
	smooth := func(r float64) float64 { return 3*r*r - 2*r*r*r }
	arc := func(r float64) float64 { return (2 / math.Pi) * math.Asin(r) }

	switch method {
	case NoddiScatterSplineL0:
		return e, true
	case NoddiScatterSplineC0:
		return smooth(e), true
	case NoddiScatterSplineC1:
		return smooth(e * e), true
	case NoddiScatterSplineC2:
		return smooth(e * e * e), true
	case NoddiScatterSplineS0:
		return arc(e), true
	case NoddiScatterSplineS1:
		return arc(e * e), true
	case NoddiScatterSplineS2:
		return arc(e * e * e), true
	}
	return 0, false
}

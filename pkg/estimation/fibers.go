package estimation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/cluster"
	"qitkit/pkg/config"
	"qitkit/pkg/fitting"
	"qitkit/pkg/linalg"
	"qitkit/pkg/logging"
	"qitkit/pkg/model"
	"qitkit/pkg/stats"
)

// FibersEstimation selects how compartments of different models are put in
// correspondence.
type FibersEstimation int

const (
	// Match clusters the compartment lines of every model
	Match FibersEstimation = iota

	// Rank pairs compartments by their fraction rank
	Rank
)

// FibersSelection selects how many compartments Match keeps.
type FibersSelection int

const (
	// Max uses the largest compartment count among the models
	Max FibersSelection = iota

	// Fixed always uses the codec's compartment count
	Fixed

	// Linear uses the weighted average compartment count
	Linear

	// Adaptive picks the count minimizing the clustering cost plus Lambda
	// per compartment
	Adaptive
)

// ParseFibersEstimation parses "match" or "rank".
func ParseFibersEstimation(name string) (FibersEstimation, error) {
	switch strings.ToLower(name) {
	case "", "match":
		return Match, nil
	case "rank":
		return Rank, nil
	}
	return 0, fmt.Errorf("%w: fibers estimation %q", ErrUnsupported, name)
}

// ParseFibersSelection parses "max", "fixed", "linear" or "adaptive".
func ParseFibersSelection(name string) (FibersSelection, error) {
	switch strings.ToLower(name) {
	case "max":
		return Max, nil
	case "fixed":
		return Fixed, nil
	case "linear":
		return Linear, nil
	case "", "adaptive":
		return Adaptive, nil
	}
	return 0, fmt.Errorf("%w: fibers selection %q", ErrUnsupported, name)
}

// FibersEstimator averages ball and sticks models.
type FibersEstimator struct {
	// Comps is the compartment count of the encodings
	Comps int

	Estimation FibersEstimation
	Selection  FibersSelection

	// MinFrac drops compartments with a smaller fraction before matching
	MinFrac float64
	Lambda  float64

	Restarts int

	// Watson matches lines with a Watson mixture instead of axial k-means
	Watson bool

	Seed   uint32
	Logger *zap.Logger
}

// NewFibersEstimator builds an estimator for comps compartments.
func NewFibersEstimator(comps int, cfg config.Fibers, logger *zap.Logger) (*FibersEstimator, error) {
	est, err := ParseFibersEstimation(cfg.Estimation)
	if err != nil {
		return nil, err
	}
	sel, err := ParseFibersSelection(cfg.Selection)
	if err != nil {
		return nil, err
	}

	e := &FibersEstimator{
		Comps:      comps,
		Estimation: est,
		Selection:  sel,
		MinFrac:    cfg.MinFrac,
		Lambda:     cfg.Lambda,
		Restarts:   cfg.Restarts,
		Logger:     logger,
	}
	switch strings.ToLower(cfg.Clustering) {
	case "", "axial":
	case "watson":
		e.Watson = true
	default:
		return nil, fmt.Errorf("%w: fibers clustering %q", ErrUnsupported, cfg.Clustering)
	}
	return e, nil
}

func (e *FibersEstimator) Codec() model.Codec { return model.FibersCodec{Comps: e.Comps} }

func (e *FibersEstimator) Estimate(weights []float64, encodings [][]float64) ([]float64, error) {
	sumw, err := checkInputs(weights, encodings, model.FibersSize(e.Comps))
	if err != nil {
		return nil, err
	}
	out := model.NewFibers(e.Comps)
	if linalg.Zero(sumw) {
		return out.Encode(), nil
	}

	models := make([]model.Fibers, len(encodings))
	for i, enc := range encodings {
		models[i] = model.DecodeFibers(enc)
	}
	out.Base = weightedMean(column(encodings, 0), weights)
	out.Diff = geometricMean(column(encodings, 1), weights)

	if e.Estimation == Rank {
		err = e.rank(&out, models, weights)
	} else {
		err = e.match(&out, models, weights)
	}
	if err != nil {
		return nil, fmt.Errorf("fibers estimation: %w", err)
	}
	return out.Encode(), nil
}

// rank averages the j-th largest compartment of every model into the j-th
// compartment of the consensus.
func (e *FibersEstimator) rank(out *model.Fibers, models []model.Fibers, weights []float64) error {
	sorted := make([]model.Fibers, len(models))
	for i, m := range models {
		sorted[i] = m.Sorted()
	}

	vs := stats.NewVectStats()
	fracs := make([]float64, len(models))
	stat := make([]float64, len(models))
	lines := make([][]float64, len(models))
	for j := 0; j < e.Comps; j++ {
		for i, m := range sorted {
			fracs[i] = m.Comps[j].Frac
			stat[i] = m.Comps[j].Stat
			lines[i] = m.Comps[j].Line
		}

		summary, err := vs.Compute(fracs, weights)
		if err != nil {
			return err
		}
		comp := model.Fiber{
			Frac:  summary.Mean,
			Stat:  weightedMean(stat, weights),
			Label: j + 1,
			Line:  make([]float64, 3),
		}
		if axis := axialMean(lines, weights); axis != nil {
			comp.Line = axis
		}
		out.Comps[j] = comp
	}
	return nil
}

// sources holds the compartments that take part in matching.
type sources struct {
	lines   [][]float64
	fracs   []float64
	stats   []float64
	weights []float64
}

// partition is the outcome of clustering compartment lines.
type partition struct {
	k       int
	labels  []int
	centers [][]float64
	cost    float64
}

// match clusters the compartment lines of every model and turns each
// cluster into a consensus compartment.
func (e *FibersEstimator) match(out *model.Fibers, models []model.Fibers, weights []float64) error {
	var src sources
	var countw, countsumw float64
	var maxCount int
	for i, m := range models {
		w := weights[i]
		count := 0
		for _, c := range m.Comps {
			if linalg.Zero(w) || linalg.Zero(c.Frac) || linalg.Zero(floats.Norm(c.Line, 2)) || c.Frac < e.MinFrac {
				continue
			}
			src.lines = append(src.lines, c.Line)
			src.fracs = append(src.fracs, c.Frac)
			src.stats = append(src.stats, c.Stat)
			src.weights = append(src.weights, w)
			count++
		}
		countw += w * float64(count)
		countsumw += w
		if count > maxCount {
			maxCount = count
		}
	}

	n := len(src.lines)
	if n == 0 || linalg.Zero(countsumw) {
		return nil
	}
	floats.Scale(1/countsumw, src.weights)

	if e.Selection == Fixed && n < e.Comps {
		for i := range src.lines {
			out.Comps[i] = model.Fiber{
				Frac:  src.fracs[i] * src.weights[i],
				Stat:  src.stats[i],
				Label: i + 1,
				Line:  linalg.Normalize(src.lines[i]),
			}
		}
		return nil
	}

	clusterWeights := make([]float64, n)
	floats.MulTo(clusterWeights, src.weights, src.fracs)
	total := floats.Sum(clusterWeights)
	if linalg.Zero(total) {
		return nil
	}
	floats.Scale(1/total, clusterWeights)

	var part partition
	var err error
	switch e.Selection {
	case Fixed:
		part, err = e.cluster(e.Comps, src.lines, clusterWeights)
	case Max:
		part, err = e.cluster(maxCount, src.lines, clusterWeights)
	case Linear:
		k := int(math.Max(1, math.Round(countw/countsumw)))
		part, err = e.cluster(k, src.lines, clusterWeights)
	default:
		part, err = e.adaptive(src.lines, clusterWeights)
	}
	if err != nil {
		return err
	}

	cfracs := make([]float64, part.k)
	cstats := make([]float64, part.k)
	cweights := make([]float64, part.k)
	counts := make([]int, part.k)
	for j, l := range part.labels {
		if l <= 0 {
			continue
		}
		w := src.weights[j]
		cfracs[l-1] += w * src.fracs[j]
		cstats[l-1] += w * src.stats[j]
		cweights[l-1] += w
		counts[l-1]++
	}

	order := make([]int, part.k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return cfracs[order[a]] > cfracs[order[b]] })

	for i := 0; i < part.k && i < e.Comps; i++ {
		c := order[i]
		comp := model.Fiber{Label: c + 1, Line: make([]float64, 3)}
		if counts[c] > 0 {
			comp.Frac = cfracs[c]
			comp.Line = linalg.Normalize(part.centers[c])
			if cweights[c] > 0 {
				comp.Stat = cstats[c] / cweights[c]
			}
		}
		out.Comps[i] = comp
	}
	return nil
}

// adaptive clusters with every count up to Comps and keeps the cheapest
// after penalizing each compartment by Lambda.
func (e *FibersEstimator) adaptive(lines [][]float64, weights []float64) (partition, error) {
	var best partition
	bestCost := math.Inf(1)
	for k := 1; k <= e.Comps; k++ {
		part, err := e.cluster(k, lines, weights)
		if err != nil {
			return partition{}, err
		}
		if cost := part.cost + e.Lambda*float64(k); cost < bestCost {
			best, bestCost = part, cost
		}
	}
	return best, nil
}

func (e *FibersEstimator) cluster(k int, lines [][]float64, weights []float64) (partition, error) {
	if k > len(lines) {
		k = len(lines)
	}
	if k < 1 {
		k = 1
	}
	cfg := cluster.Config{
		K:        k,
		Restarts: e.Restarts,
		Seed:     e.Seed,
		Logger:   logging.OrNop(e.Logger),
	}

	if e.Watson {
		res, err := cluster.WatsonMixture{
			Config: cfg,
			Fitter: fitting.WatsonFitter{Logger: cfg.Logger},
		}.Run(lines, weights)
		if err != nil {
			return partition{}, err
		}
		centers := make([][]float64, len(res.Components))
		for i, c := range res.Components {
			centers[i] = c.Mu
		}
		return partition{k: k, labels: res.Labels, centers: centers, cost: res.Cost}, nil
	}

	res, err := cluster.AxialKMeans{Config: cfg}.Run(lines, weights)
	if err != nil {
		return partition{}, err
	}
	return partition{k: k, labels: res.Labels, centers: res.Centers, cost: res.Cost}, nil
}

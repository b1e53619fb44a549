// Package cluster implements expectation-maximization clustering: k-means
// style hard assignment for Euclidean, axial and spatial-axial data, and
// soft mixtures of Gaussian, Watson, Gaussian-Watson and Bernoulli
// components. Every variant shares one control loop.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/valyala/fastrand"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"qitkit/pkg/logging"
)

var (
	// ErrEmpty is returned when there is nothing to cluster.
	ErrEmpty = errors.New("cluster: no samples")

	// ErrTooManyClusters is returned when K exceeds the number of samples.
	ErrTooManyClusters = errors.New("cluster: more clusters than samples")

	// ErrInvalidConfig is returned for unusable parameters or initial labels.
	ErrInvalidConfig = errors.New("cluster: invalid configuration")

	// ErrUnsupported is returned by operations a variant does not provide.
	ErrUnsupported = errors.New("cluster: unsupported operation")
)

var nopLogger = zap.NewNop()

// Config holds the parameters shared by every clustering variant.
type Config struct {
	// K is the number of clusters
	K int

	MaxIters int
	Restarts int

	// Thresh stops a run once the cost changes by less than this amount
	Thresh float64

	// Seed makes runs reproducible; restart r uses Seed+r
	Seed uint32

	// Labels optionally assigns initial clusters in [1, K], 0 means unlabeled
	Labels []int

	Logger *zap.Logger
}

// DefaultConfig returns the usual parameters for k clusters.
func DefaultConfig(k int) Config {
	return Config{
		K:        k,
		MaxIters: 300,
		Restarts: 1,
		Thresh:   1e-3,
	}
}

// Trace records how a clustering run evolved.
type Trace struct {
	// Costs holds the cost after every iteration of the winning restart
	Costs []float64

	Iters     int
	Converged bool

	// Restart is the index of the winning restart
	Restart int
}

// state is a single clustering run. Implementations own all their mutable
// data so restarts can run concurrently.
type state interface {
	// init prepares the first parameters, from labels when non-nil and from
	// a warm start otherwise
	init(labels []int) error
	expectation()
	maximization()
	cost() float64
	labels() []int
}

func (c Config) validate(n int) error {
	if n == 0 {
		return ErrEmpty
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidConfig, c.K)
	}
	if c.K > n {
		return fmt.Errorf("%w: k=%d, samples=%d", ErrTooManyClusters, c.K, n)
	}
	if c.Labels != nil {
		if len(c.Labels) != n {
			return fmt.Errorf("%w: %d initial labels for %d samples", ErrInvalidConfig, len(c.Labels), n)
		}
		for i, l := range c.Labels {
			if l < 0 || l > c.K {
				return fmt.Errorf("%w: initial label %d of sample %d is outside [0, %d]", ErrInvalidConfig, l, i, c.K)
			}
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.K)
	if c.MaxIters <= 0 {
		c.MaxIters = d.MaxIters
	}
	if c.Restarts <= 0 {
		c.Restarts = d.Restarts
	}
	if c.Thresh <= 0 {
		c.Thresh = d.Thresh
	}
	return c
}

// newRNG returns the generator of one restart. fastrand treats a zero seed
// as a request for a random one, so seeds are offset by one.
func newRNG(seed uint32, restart int) *fastrand.RNG {
	var rng fastrand.RNG
	rng.Seed(seed + uint32(restart) + 1)
	return &rng
}

// runSingle drives one state to convergence or to the iteration cap.
func runSingle(s state, cfg Config, logger *zap.Logger) (Trace, error) {
	if err := s.init(cfg.Labels); err != nil {
		return Trace{}, err
	}

	var trace Trace
	cost := math.Inf(1)
	for {
		pcost := cost
		s.expectation()
		s.maximization()
		cost = s.cost()
		trace.Iters++
		trace.Costs = append(trace.Costs, cost)

		if math.Abs(cost-pcost) < cfg.Thresh {
			trace.Converged = true
			break
		}
		if trace.Iters >= cfg.MaxIters {
			logger.Debug("clustering stopped before converging",
				zap.Int("iters", trace.Iters), zap.Float64("cost", cost), zap.Float64("delta", cost-pcost))
			break
		}
	}
	return trace, nil
}

// run executes cfg.Restarts independent runs in parallel and keeps the one
// with the lowest final cost; ties go to the earliest restart.
func run[S state](cfg Config, n int, fresh func(rng *fastrand.RNG) S) (S, Trace, error) {
	var zero S
	cfg = cfg.withDefaults()
	if err := cfg.validate(n); err != nil {
		return zero, Trace{}, err
	}
	logger := logging.OrNop(cfg.Logger)

	type restartResult struct {
		restart int
		state   S
		trace   Trace
		err     error
	}
	resultChan := make(chan restartResult)

	var wg sync.WaitGroup
	for r := 0; r < cfg.Restarts; r++ {
		wg.Add(1)
		go func(restart int) {
			defer wg.Done()
			s := fresh(newRNG(cfg.Seed, restart))
			trace, err := runSingle(s, cfg, logger.With(zap.Int("restart", restart)))
			trace.Restart = restart
			resultChan <- restartResult{restart, s, trace, err}
		}(r)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]restartResult, cfg.Restarts)
	for result := range resultChan {
		results[result.restart] = result
	}

	best := -1
	bestCost := math.Inf(1)
	for i, result := range results {
		if result.err != nil {
			return zero, Trace{}, fmt.Errorf("restart %d: %w", i, result.err)
		}
		cost := result.state.cost()
		if math.IsNaN(cost) {
			cost = math.Inf(1)
		}
		if best < 0 || cost < bestCost {
			best, bestCost = i, cost
		}
	}

	logger.Debug("clustering finished",
		zap.Int("k", cfg.K), zap.Int("restart", best), zap.Float64("cost", bestCost),
		zap.Int("iters", results[best].trace.Iters))
	return results[best].state, results[best].trace, nil
}

// sampleWeights returns weights of ones when w is nil and panics when the
// lengths differ. Non-empty weights must have a positive total.
func sampleWeights(w []float64, n int) ([]float64, error) {
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
		return w, nil
	}
	if len(w) != n {
		panic(fmt.Sprintf("cluster: %d weights for %d samples", len(w), n))
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) {
			return nil, fmt.Errorf("%w: weight %d is %g", ErrInvalidConfig, i, v)
		}
	}
	if n > 0 && floats.Sum(w) <= 0 {
		return nil, fmt.Errorf("%w: weights sum to zero", ErrInvalidConfig)
	}
	return w, nil
}

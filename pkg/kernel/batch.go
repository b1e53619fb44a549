package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"qitkit/pkg/logging"
	"qitkit/pkg/stats"
)

// Batch holds the estimates of EstimateAll in query order.
type Batch struct {
	Values [][]float64

	// Neighbors summarizes how many voxels contributed to each query
	Neighbors stats.OnlineStats
}

// EstimateAll evaluates every coordinate on a pool of workers. A
// non-positive workers uses one worker per CPU. The first estimation error
// or the context error stops the batch.
func (k *Estimator) EstimateAll(ctx context.Context, coords [][]float64, workers int) (*Batch, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := logging.OrNop(k.Logger)

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("error creating worker pool: %w", err)
	}
	defer pool.Release()

	values := make([][]float64, len(coords))
	counts := make([]int, len(coords))

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := range coords {
		if ctx.Err() != nil {
			break
		}
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("kernel query panicked", zap.Int("query", i), zap.Any("panic", r))
					fail(fmt.Errorf("query %d: %v", i, r))
					cancel()
				}
			}()
			if ctx.Err() != nil {
				return
			}
			out, n, err := k.estimate(coords[i], nil)
			if err != nil {
				fail(fmt.Errorf("query %d: %w", i, err))
				cancel()
				return
			}
			values[i], counts[i] = out, n
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("error submitting query %d: %w", i, err))
			cancel()
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	batch := &Batch{Values: values}
	for _, n := range counts {
		if err := batch.Neighbors.Update(float64(n)); err != nil {
			return nil, err
		}
	}
	logger.Debug("kernel batch finished",
		zap.Int("queries", len(coords)),
		zap.Float64("meanNeighbors", batch.Neighbors.Mean))
	return batch, nil
}

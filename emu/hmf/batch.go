package hmf

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PredictBatch evaluates reqs with at most workers predictions in flight
// (workers <= 0 uses GOMAXPROCS). Results keep the order of reqs. The first
// failure cancels the remaining work and is returned with its request index.
func (e *Emulator) PredictBatch(ctx context.Context, reqs []Request, workers int) ([]*Prediction, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]*Prediction, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range reqs {
		i := i
		g.Go(func() error {
			p, err := e.Predict(gctx, reqs[i])
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

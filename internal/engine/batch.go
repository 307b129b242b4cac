package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs a request with its outcome. Result is nil with a nil
// Err when the symbol had no data.
type BatchResult struct {
	Request Request
	Result  *Result
	Err     error
}

// RunBatch runs independent backtests on at most workers goroutines and
// returns one BatchResult per request, in request order. A failed run does
// not stop the others. Once ctx is done, requests not yet started are
// reported with ctx's error.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request, workers int) []BatchResult {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	out := make([]BatchResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range reqs {
		out[i].Request = reqs[i]
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result, out[i].Err = e.RunBacktest(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Package batch drives bounded-concurrency fetches over an index space, one chunk at a time.
package batch

import (
	"context"
	"time"

	"github.com/Swapica/order-ledger-svc/internal/retry"
	"golang.org/x/sync/errgroup"
)

const DefaultSize = 5

type Chunked struct {
	// Size is both the chunk length and the number of requests in flight.
	Size int
	// Pause is waited between chunks to stay under upstream rate limits.
	Pause time.Duration
	// Progress, when set, is called after every chunk.
	Progress func(done, total int)
}

// Fetch calls fetch for every index in [0, total) and returns the results in index
// order. The first failed item cancels the rest of its chunk and aborts the fetch.
func Fetch[T any](ctx context.Context, c Chunked, total int, fetch func(ctx context.Context, i int) (T, error)) ([]T, error) {
	size := c.Size
	if size < 1 {
		size = DefaultSize
	}

	results := make([]T, total)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				result, err := fetch(gCtx, i)
				if err != nil {
					return err
				}
				results[i] = result
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if c.Progress != nil {
			c.Progress(end, total)
		}
		if end < total {
			if err := retry.Sleep(ctx, c.Pause); err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}

// Each is Fetch over a slice of inputs.
func Each[In, Out any](ctx context.Context, c Chunked, items []In, fetch func(ctx context.Context, item In) (Out, error)) ([]Out, error) {
	return Fetch(ctx, c, len(items), func(ctx context.Context, i int) (Out, error) {
		return fetch(ctx, items[i])
	})
}

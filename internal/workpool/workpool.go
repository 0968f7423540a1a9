// Package workpool runs indexed units of work on a bounded number of
// goroutines.
//
// Results are returned in index order no matter which unit finishes first,
// and the first failure cancels the context handed to every other unit.
// Units that have not started when that happens are skipped.
package workpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Each calls fn for every i in [0, n) on at most limit goroutines. A limit
// below one runs everything on the calling goroutine.
func Each(ctx context.Context, n, limit int, fn func(ctx context.Context, i int) error) error {
	if limit <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Map is Each for functions producing a value. out[i] is fn's result for i.
// On error no results are returned.
func Map[T any](ctx context.Context, n, limit int, fn func(ctx context.Context, i int) (T, error)) ([]T, error) {
	out := make([]T, n)
	err := Each(ctx, n, limit, func(ctx context.Context, i int) error {
		v, err := fn(ctx, i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

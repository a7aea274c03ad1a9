package dispatcher

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the tagged outcome of one settled task.
type Result[K any, T any] struct {
	Key   K
	Value T
	Err   error
}

// SettleAll runs fn for every key with at most limit running at once and
// waits for all of them. A failing key never cancels the others. Results
// come back in key order.
func SettleAll[K any, T any](ctx context.Context, keys []K, limit int, fn func(context.Context, K) (T, error)) []Result[K, T] {
	results := make([]Result[K, T], len(keys))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			v, err := fn(ctx, key)
			results[i] = Result[K, T]{Key: key, Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Split separates successful values from failures, keeping order.
func Split[K any, T any](results []Result[K, T]) (ok []T, failed []Result[K, T]) {
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
			continue
		}
		ok = append(ok, r.Value)
	}
	return ok, failed
}

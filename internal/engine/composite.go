package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runMapBounded runs mapOne over each item, bounded to at most
// parallelism concurrent in-flight calls, and collects results in
// input order regardless of completion order, as MapReduceStep
// requires. parallelism <= 1 runs strictly serially.
func runMapBounded(ctx context.Context, items []any, parallelism int, mapOne func(ctx context.Context, idx int, item any) (any, error)) ([]any, error) {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]any, len(items))

	if parallelism == 1 {
		for i, item := range items {
			out, err := mapOne(ctx, i, item)
			if err != nil {
				return nil, fmt.Errorf("engine: map item %d: %w", i, err)
			}
			results[i] = out
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := mapOne(gctx, i, item)
			if err != nil {
				return fmt.Errorf("engine: map item %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// reduceSerial folds items left-to-right starting from initial,
// always serially regardless of how the map phase ran.
func reduceSerial(ctx context.Context, items []any, initial any, reduceOne func(ctx context.Context, acc, item any) (any, error)) (any, error) {
	acc := initial
	for _, item := range items {
		out, err := reduceOne(ctx, acc, item)
		if err != nil {
			return nil, err
		}
		acc = out
	}
	return acc, nil
}

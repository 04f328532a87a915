package main

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// batchError reports a multi-target command where some targets failed.
type batchError struct {
	failed int
	total  int
}

func (e *batchError) Error() string {
	return fmt.Sprintf("%d of %d operations failed", e.failed, e.total)
}

// runBatch applies fn to every target. A single target runs inline so its
// error is returned unchanged; several run concurrently on the worker pool
// and each outcome is reported as it completes.
func (a *app) runBatch(ctx context.Context, op string, targets []string, fn func(ctx context.Context, target string) error) error {
	if len(targets) == 1 {
		return fn(ctx, targets[0])
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	report := func(target string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", op, target, err)
		}
		wg.Done()
	}

	for _, target := range targets {
		wg.Add(1)
		err := a.pool.Submit(ctx, op+" "+target,
			func(ctx context.Context) error { return fn(ctx, target) },
			func(err error) { report(target, err) })
		if err != nil {
			report(target, err)
		}
	}
	wg.Wait()

	if failed > 0 {
		return &batchError{failed: failed, total: len(targets)}
	}
	return nil
}

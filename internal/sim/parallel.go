package sim

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Job builds and runs one independent simulation. Each job must own its
// plant, clock and drivetrain.
type Job func(ctx context.Context) (*Result, error)

// RunParallel runs jobs on at most workers goroutines. Results keep the
// order of jobs; a failed job leaves a nil result and its error is combined
// into the returned error.
func RunParallel(ctx context.Context, jobs []Job, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]*Result, len(jobs))
	errs := make([]error, len(jobs))

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, job Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx], errs[idx] = job(ctx)
		}(i, job)
	}

	wg.Wait()
	return results, multierr.Combine(errs...)
}

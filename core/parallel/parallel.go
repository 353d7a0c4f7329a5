package parallel

import (
	"runtime"
	"sync"
)

// ParallelizeWithThreshold divides the range [0, items) according to the
// number of CPU cores and executes fn in parallel for each chunk
// (start, end). Ranges of threshold items or fewer are processed
// sequentially in a single call.
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items == 0 {
		return
	}
	if items <= threshold {
		// Sequential processing when below threshold
		fn(0, items)
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items // No need for more workers than items
	}

	// Calculate the number of items each worker handles (ceiling division)
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}

		// Skip if there's no range to handle
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	// Wait for all workers to finish processing
	wg.Wait()
}

// RunTasks executes tasks 0..items-1 on a bounded pool of workers and
// returns the first error encountered (by task index). All tasks run to
// completion before RunTasks returns, even after a failure; callers rely on
// this as a synchronization barrier.
//
// workers <= 0 means one worker per available CPU core.
func RunTasks(items int, workers int, task func(i int) error) error {
	if items == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}

	errs := make([]error, items)
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				errs[i] = task(i)
			}
		}()
	}

	for i := 0; i < items; i++ {
		indices <- i
	}
	close(indices)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

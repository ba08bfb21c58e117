package dynamo

import "sync"

// Chunks splits [0, n) into at most workers contiguous ranges of at least
// minChunk items. The split depends only on its arguments.
func Chunks(n, minChunk, workers int) [][2]int {
	if minChunk < 1 {
		minChunk = 1
	}
	if workers > n/minChunk {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	chunks := make([][2]int, 0, workers)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		chunks = append(chunks, [2]int{start, end})
	}
	return chunks
}

// ParallelFor runs fn over the ranges produced by Chunks, one goroutine per
// range, and waits for all of them. fn receives its range index so callers can
// keep per-worker accumulators.
func ParallelFor(n, minChunk, workers int, fn func(worker, start, end int)) {
	chunks := Chunks(n, minChunk, workers)
	if len(chunks) <= 1 {
		if n > 0 {
			fn(0, 0, n)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(chunks))
	for w, c := range chunks {
		go func(worker, s, e int) {
			defer wg.Done()
			fn(worker, s, e)
		}(w, c[0], c[1])
	}
	wg.Wait()
}

package host

import "runtime"

type task struct {
	fn     func(worker, lo, hi int)
	worker int
	lo, hi int
	done   chan struct{}
}

// pool is a fixed set of goroutines that run index ranges. Kernels never
// share it concurrently in practice because the profiler runs one
// candidate at a time, but parallelFor is safe for concurrent callers.
type pool struct {
	size      int
	tasks     chan task
	doneSlots chan chan struct{}
}

func newPool(size int) *pool {
	size = max(size, 1)
	p := &pool{
		size:      size,
		tasks:     make(chan task, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for range size {
		p.doneSlots <- make(chan struct{}, size)
	}
	for range size {
		go func() {
			for t := range p.tasks {
				t.fn(t.worker, t.lo, t.hi)
				t.done <- struct{}{}
			}
		}()
	}
	return p
}

var workPool = newPool(runtime.GOMAXPROCS(0))

// Workers is the parallelism host kernels use by default.
func Workers() int {
	return workPool.size
}

// parallelFor splits [0, n) into at most workers contiguous chunks and
// blocks until all of them are done. fn receives the chunk's worker slot,
// which indexes per-worker scratch.
func (p *pool) parallelFor(n, workers int, fn func(worker, lo, hi int)) {
	if n <= 0 {
		return
	}
	if workers <= 0 || workers > p.size {
		workers = p.size
	}
	workers = min(workers, n)
	if workers == 1 {
		fn(0, 0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := <-p.doneSlots
	sent := 0
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= n {
			break
		}
		p.tasks <- task{fn: fn, worker: w, lo: lo, hi: min(lo+chunk, n), done: done}
		sent++
	}
	for range sent {
		<-done
	}
	p.doneSlots <- done
}

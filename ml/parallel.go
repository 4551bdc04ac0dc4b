package ml

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var numThreads atomic.Int64

func init() {
	numThreads.Store(int64(runtime.GOMAXPROCS(0)))
}

// SetThreads limits the number of goroutines kernels fan out to. Values
// below 1 restore the default of GOMAXPROCS.
func SetThreads(n int) {
	if n < 1 {
		n = runtime.GOMAXPROCS(0)
	}

	numThreads.Store(int64(n))
}

func Threads() int {
	return int(numThreads.Load())
}

// parallelFor runs fn for every i in [0, n). Each index is handled by exactly
// one goroutine so fn may write to disjoint output ranges without locking.
func parallelFor(n int, fn func(i int)) {
	threads := Threads()
	if n <= 1 || threads <= 1 {
		for i := range n {
			fn(i)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(threads)
	for i := range n {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}

	_ = g.Wait()
}

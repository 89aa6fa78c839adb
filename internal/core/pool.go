package core

import "sync"

// Pool bounds the number of goroutines used for parallel selection and
// trigger fan-out. Selection and execution share one pool so the deployment
// controls total concurrency with a single knob.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool allowing up to size concurrent tasks. A size below 1
// degenerates to serial execution.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size reports the pool's concurrency bound.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Each runs fn for every index in [0,n) with bounded concurrency and returns
// once all invocations have finished.
func (p *Pool) Each(n int, fn func(i int)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-p.sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

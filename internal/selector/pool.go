package selector

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Pool is the fixed-size selector thread pool of spec §4.3: Next()
// round-robins channels across its workers, and Shutdown signals every
// worker to stop; it does not wait for their loops to exit.
type Pool struct {
	workers []*Selector
	next    atomic.Uint64
}

// NewPool starts size Selectors (default runtime.NumCPU() when size<=0,
// per spec §6's "pool: selector thread count (default = number of
// CPUs)").
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{workers: make([]*Selector, size)}
	for i := range p.workers {
		s, err := New()
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("selector: pool worker %d: %w", i, err)
		}
		p.workers[i] = s
	}
	return p, nil
}

// Next returns the next worker, round-robin.
func (p *Pool) Next() *Selector {
	i := p.next.Add(1) - 1
	return p.workers[i%uint64(len(p.workers))]
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown signals every worker to stop and returns; each worker
// deregisters its own keys from epoll as it exits. It does not notify
// processors or acceptors, close their sockets, or fail pending futures.
func (p *Pool) Shutdown() {
	for _, s := range p.workers {
		if s != nil {
			s.Shutdown()
		}
	}
}

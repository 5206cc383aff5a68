// Package pool wraps sync.Pool with a creation counter.
package pool

import (
	"sync"

	"github.com/linchenxuan/oncelink/metrics"
)

// Pool is a typed sync.Pool that counts how often it had to allocate.
type Pool[T any] struct {
	Name string
	pool sync.Pool
}

// NewPool creates a pool whose misses are counted under name.
func NewPool[T any](name string, newFunc func() T) *Pool[T] {
	p := &Pool[T]{Name: name}
	p.pool.New = func() any {
		metrics.IncrCounterWithDimGroup(metrics.NamePoolCreateTotal, metrics.GroupOncelink, 1, metrics.Dimension{
			metrics.DimPoolName: name,
		})
		return newFunc()
	}
	return p
}

// Put adds x back to the pool.
func (p *Pool[T]) Put(x T) {
	p.pool.Put(x)
}

// Get takes an item from the pool, creating one if it is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// BytesPool hands out byte slices with at least a given capacity. Slices
// larger than maxCap are not returned to the pool.
type BytesPool struct {
	pool   *Pool[*[]byte]
	maxCap int
}

// NewBytesPool creates a pool of slices of initCap capacity.
func NewBytesPool(name string, initCap, maxCap int) *BytesPool {
	return &BytesPool{
		pool: NewPool(name, func() *[]byte {
			b := make([]byte, 0, initCap)
			return &b
		}),
		maxCap: maxCap,
	}
}

// Get returns a slice of length n.
func (p *BytesPool) Get(n int) *[]byte {
	b := p.pool.Get()
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// Put recycles b.
func (p *BytesPool) Put(b *[]byte) {
	if b == nil || cap(*b) > p.maxCap {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}

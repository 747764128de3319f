package transport

import (
	"io"
	"sync"
	"sync/atomic"
)

// shared counts the handles referencing one resource.
type shared[T io.Closer] struct {
	res  T
	refs atomic.Int64
}

// Ref is one handle on a reference-counted resource. Clone adds a handle,
// Release drops it; the resource is closed when the last handle is released.
type Ref[T io.Closer] struct {
	s        *shared[T]
	once     sync.Once
	released atomic.Bool
	err      error
}

// NewRef wraps res with a single handle.
func NewRef[T io.Closer](res T) *Ref[T] {
	s := &shared[T]{res: res}
	s.refs.Store(1)
	return &Ref[T]{s: s}
}

// Value returns the shared resource.
func (r *Ref[T]) Value() T { return r.s.res }

// Clone returns a new handle on the same resource. Cloning a released handle,
// or a resource already closed, returns a handle that is already released and
// does not count as a reference.
func (r *Ref[T]) Clone() *Ref[T] {
	if !r.released.Load() {
		for n := r.s.refs.Load(); n > 0; n = r.s.refs.Load() {
			if r.s.refs.CompareAndSwap(n, n+1) {
				return &Ref[T]{s: r.s}
			}
		}
	}
	dead := &Ref[T]{s: r.s}
	dead.released.Store(true)
	dead.once.Do(func() {})
	return dead
}

// Refs reports the number of live handles.
func (r *Ref[T]) Refs() int64 { return r.s.refs.Load() }

// Released reports whether this handle has been released.
func (r *Ref[T]) Released() bool { return r.released.Load() }

// Release drops this handle. It is idempotent per handle; the last release
// closes the resource and returns its Close error.
func (r *Ref[T]) Release() error {
	r.once.Do(func() {
		r.released.Store(true)
		if r.s.refs.Add(-1) == 0 {
			r.err = r.s.res.Close()
		}
	})
	return r.err
}

package pico

import "sync/atomic"

// refs counts the owners of a native object. The release function runs
// exactly once, on the goroutine that drops the last owner.
type refs struct {
	n       atomic.Int32
	release func()
}

func (r *refs) init(release func()) {
	r.release = release
	r.n.Store(1)
}

// acquire adds an owner. It fails once the object has been released, so a
// dead object can never be revived.
func (r *refs) acquire() bool {
	for {
		n := r.n.Load()
		if n <= 0 {
			return false
		}
		if r.n.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *refs) drop() {
	switch n := r.n.Add(-1); {
	case n == 0:
		r.release()
	case n < 0:
		panic("pico: reference count below zero")
	}
}

// count returns the current number of owners.
func (r *refs) count() int {
	return int(r.n.Load())
}

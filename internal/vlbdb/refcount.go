package vlbdb

import "sync/atomic"

// Ownership selects how an object's lifetime is managed.
type Ownership uint8

const (
	// Owned objects are destroyed when their last reference is released.
	Owned Ownership = iota
	// StaticLifetime objects live for the whole process; retain and release
	// are ignored.
	StaticLifetime
)

func (o Ownership) String() string {
	if o == StaticLifetime {
		return "static"
	}
	return "owned"
}

type refCount struct {
	mode Ownership
	n    atomic.Int64
}

func (r *refCount) init(mode Ownership) {
	r.mode = mode
	r.n.Store(1)
}

func (r *refCount) retain() bool {
	if r.mode == StaticLifetime {
		return true
	}
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

// release drops one reference and reports whether it was the last one.
func (r *refCount) release() bool {
	if r.mode == StaticLifetime {
		return false
	}
	return r.n.Add(-1) == 0
}

func (r *refCount) alive() bool {
	return r.mode == StaticLifetime || r.n.Load() > 0
}

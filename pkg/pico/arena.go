package pico

import "unsafe"

// arena is the block of native memory a System hands to the engine for all
// of its internal allocations.
type arena struct {
	ptr   unsafe.Pointer
	size  int
	align int
}

func allocArena(be Backend, size int) (arena, bool) {
	p := be.Alloc(size, arenaAlign)
	if p == nil {
		return arena{}, false
	}
	return arena{ptr: p, size: size, align: arenaAlign}, true
}

// free releases the arena memory. Safe to call on a zero or freed arena.
func (a *arena) free(be Backend) {
	if a.ptr == nil {
		return
	}
	be.Free(a.ptr)
	a.ptr = nil
}

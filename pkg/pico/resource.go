package pico

import (
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
)

// Kind is the role a resource plays in a voice. The native layer cannot
// report it, so it is only known when the caller states it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTextAnalysis is a text-analysis (TA) resource, e.g. en-US_ta.bin.
	KindTextAnalysis
	// KindSpeechGeneration is a speech-generation (SG) resource, e.g.
	// en-US_lh0_sg.bin.
	KindSpeechGeneration
)

func (k Kind) String() string {
	switch k {
	case KindTextAnalysis:
		return "ta"
	case KindSpeechGeneration:
		return "sg"
	}
	return "unknown"
}

// KindFromFileName guesses the kind from the Pico file naming convention:
// names ending in _ta.bin are text analysis, _sg.bin speech generation.
func KindFromFileName(path string) Kind {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, "_ta.bin"):
		return KindTextAnalysis
	case strings.HasSuffix(base, "_sg.bin"):
		return KindSpeechGeneration
	}
	return KindUnknown
}

// resource is the shared state behind Resource handles. Voices that have
// the resource attached hold references to it.
type resource struct {
	sys  *system
	h    Handle
	name string
	kind Kind
	refs refs
}

// Resource is a reference to a loaded resource file. It keeps its System
// alive; the resource is unloaded when the last reference, including those
// held by Voices it was added to, is closed.
type Resource struct {
	core   *resource
	closed atomic.Bool
}

func newResourceHandle(r *resource) *Resource {
	h := &Resource{core: r}
	runtime.SetFinalizer(h, (*Resource).Close)
	return h
}

func (r *resource) teardown() {
	s := r.sys
	s.callMu.Lock()
	if r.h != nil {
		if code := s.be.UnloadResource(s.h, r.h); code != StatusOK {
			s.log.Debug("pico: unload resource failed", "resource", r.name, "status", code)
		}
		r.h = nil
	}
	s.callMu.Unlock()
	s.refs.drop()
}

// Name returns the resource's native name, read once at load time.
func (r *Resource) Name() string {
	return r.core.name
}

// Kind returns the role given at load time.
func (r *Resource) Kind() Kind {
	return r.core.kind
}

// System returns a new reference to the System that loaded the resource.
// The caller must close it.
func (r *Resource) System() *System {
	if !r.core.sys.refs.acquire() {
		panic("pico: resource outlived its system")
	}
	return newSystemHandle(r.core.sys)
}

// Retain returns a new reference to the same loaded resource.
func (r *Resource) Retain() *Resource {
	if r.closed.Load() || !r.core.refs.acquire() {
		panic("pico: Retain on closed Resource")
	}
	return newResourceHandle(r.core)
}

// Same reports whether r and other refer to the same loaded resource.
func (r *Resource) Same(other *Resource) bool {
	return r != nil && other != nil && r.core == other.core
}

// Refs returns the number of live references to the loaded resource.
func (r *Resource) Refs() int {
	return r.core.refs.count()
}

// Close drops this reference. It is safe to call more than once.
func (r *Resource) Close() error {
	if r == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	r.core.refs.drop()
	return nil
}

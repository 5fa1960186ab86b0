package pico

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// voice is the shared state behind Voice handles. Engines hold references
// to it.
type voice struct {
	sys  *system
	name string

	// resources is append-only; guarded by sys.callMu.
	resources []*resource

	refs refs
}

// Voice is a reference to a voice definition: a name and the resources
// attached to it. It keeps its System and every attached Resource alive.
type Voice struct {
	core   *voice
	closed atomic.Bool
}

func newVoiceHandle(v *voice) *Voice {
	h := &Voice{core: v}
	runtime.SetFinalizer(h, (*Voice).Close)
	return h
}

// teardown releases the definition before letting go of the resources it
// names, then the system.
func (v *voice) teardown() {
	s := v.sys
	s.callMu.Lock()
	if code := s.be.ReleaseVoiceDefinition(s.h, v.name); code != StatusOK {
		s.log.Debug("pico: release voice definition failed", "voice", v.name, "status", code)
	}
	attached := v.resources
	v.resources = nil
	s.callMu.Unlock()

	for _, r := range attached {
		r.refs.drop()
	}
	s.refs.drop()
}

func (v *Voice) live() (*voice, error) {
	if v == nil || v.closed.Load() {
		return nil, ErrClosed
	}
	return v.core, nil
}

// Name returns the voice name given to CreateVoice.
func (v *Voice) Name() string {
	return v.core.name
}

// AddResource attaches a loaded resource to the voice. On success the voice
// keeps its own reference to r, so r stays loaded for at least as long as
// the voice, even if the caller closes r. There is no way to detach.
//
// A voice needs one text-analysis and one speech-generation resource before
// an engine can be created from it.
func (v *Voice) AddResource(r *Resource) error {
	core, err := v.live()
	if err != nil {
		return err
	}
	if r == nil || r.closed.Load() {
		return ErrClosed
	}
	res := r.core
	if res.sys != core.sys {
		return encodingError("resource belongs to another system", nil)
	}
	if !res.refs.acquire() {
		return ErrClosed
	}

	s := core.sys
	s.callMu.Lock()
	err = s.check(s.be.AddResourceToVoiceDefinition(s.h, core.name, res.name))
	if err == nil {
		core.resources = append(core.resources, res)
	}
	s.callMu.Unlock()
	if err != nil {
		res.refs.drop()
		return err
	}
	return nil
}

// NumResources returns the number of resources attached so far.
func (v *Voice) NumResources() int {
	core := v.core
	core.sys.callMu.Lock()
	defer core.sys.callMu.Unlock()
	return len(core.resources)
}

// ResourceNames returns the names of the attached resources in the order
// they were added.
func (v *Voice) ResourceNames() []string {
	core := v.core
	core.sys.callMu.Lock()
	defer core.sys.callMu.Unlock()
	names := make([]string, len(core.resources))
	for i, r := range core.resources {
		names[i] = r.name
	}
	return names
}

// Complete reports whether at least one text-analysis and one
// speech-generation resource with a known kind are attached.
func (v *Voice) Complete() bool {
	core := v.core
	core.sys.callMu.Lock()
	defer core.sys.callMu.Unlock()
	var ta, sg bool
	for _, r := range core.resources {
		switch r.kind {
		case KindTextAnalysis:
			ta = true
		case KindSpeechGeneration:
			sg = true
		}
	}
	return ta && sg
}

// NewEngine creates an engine after checking that resources of both kinds
// were attached (see LoadResourceKind). Voices built from resources of
// unknown kind must use NewEngineUnchecked.
func (v *Voice) NewEngine() (*Engine, error) {
	if _, err := v.live(); err != nil {
		return nil, err
	}
	if !v.Complete() {
		return nil, &Error{
			Code:    StatusResourceMissing,
			Message: fmt.Sprintf("voice %q needs a text-analysis and a speech-generation resource", v.core.name),
		}
	}
	return v.NewEngineUnchecked()
}

// NewEngineUnchecked creates an engine without verifying the voice.
//
// The caller must have added both a text-analysis and a speech-generation
// resource to the voice. Creating an engine from an incomplete voice is
// undefined behavior in the native engine (memory corruption or a crash),
// not an error this method can report.
func (v *Voice) NewEngineUnchecked() (*Engine, error) {
	core, err := v.live()
	if err != nil {
		return nil, err
	}
	if !core.refs.acquire() {
		return nil, ErrClosed
	}

	s := core.sys
	s.callMu.Lock()
	h, code := s.be.NewEngine(s.h, core.name)
	err = s.check(code)
	s.callMu.Unlock()
	if err != nil {
		core.refs.drop()
		return nil, err
	}

	e := &Engine{voice: core, h: h}
	runtime.SetFinalizer(e, (*Engine).Close)
	return e, nil
}

// Retain returns a new reference to the same voice definition.
func (v *Voice) Retain() *Voice {
	if v.closed.Load() || !v.core.refs.acquire() {
		panic("pico: Retain on closed Voice")
	}
	return newVoiceHandle(v.core)
}

// System returns a new reference to the System the voice belongs to.
// The caller must close it.
func (v *Voice) System() *System {
	if !v.core.sys.refs.acquire() {
		panic("pico: voice outlived its system")
	}
	return newSystemHandle(v.core.sys)
}

// Same reports whether v and other refer to the same voice definition.
func (v *Voice) Same(other *Voice) bool {
	return v != nil && other != nil && v.core == other.core
}

// Refs returns the number of live references to the voice definition,
// including those held by Engines.
func (v *Voice) Refs() int {
	return v.core.refs.count()
}

// Close drops this reference. It is safe to call more than once.
func (v *Voice) Close() error {
	if v == nil || !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(v, nil)
	v.core.refs.drop()
	return nil
}

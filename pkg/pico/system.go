package pico

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Option configures Initialize.
type Option func(*options)

type options struct {
	backend Backend
	logger  *slog.Logger
}

// WithBackend selects the native backend instead of the registered default.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithLogger sets the logger used for teardown diagnostics.
// If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// --------------------------------------------------------------------------
// System
// --------------------------------------------------------------------------

// system is the shared state behind every System handle. Resources and
// Voices hold references to it directly.
type system struct {
	be  Backend
	log *slog.Logger

	// callMu serializes all native calls against this context.
	callMu sync.Mutex

	h   Handle
	mem arena

	refs refs
}

// System is a reference to a Pico context: the arena and the native system
// living in it. Every System returned by Initialize, Retain or
// Resource.System is an independent reference and must be closed. The native
// context is finalized once all references, including those held by live
// Resources and Voices, are gone.
type System struct {
	core   *system
	closed atomic.Bool
}

// Initialize allocates an arena of arenaSize bytes and initializes a native
// Pico system inside it. If initialization fails the arena is freed before
// the error is returned.
//
// Only one System should be in use per goroutine at a time; the native
// engine is not re-entrant.
func Initialize(arenaSize int, opts ...Option) (*System, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		o.backend = DefaultBackend()
	}
	if o.backend == nil {
		return nil, ErrNoBackend
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if arenaSize <= 0 {
		return nil, encodingError(fmt.Sprintf("invalid arena size %d", arenaSize), nil)
	}

	mem, ok := allocArena(o.backend, arenaSize)
	if !ok {
		return nil, &Error{Code: StatusOutOfMem, Message: fmt.Sprintf("cannot allocate %d byte arena", arenaSize)}
	}

	s := &system{be: o.backend, log: o.logger, mem: mem}
	h, code := s.be.Initialize(mem.ptr, mem.size)
	if code != StatusOK {
		// The message lookup needs a context; a failed initialize may or may
		// not have produced one.
		s.h = h
		err := s.check(code)
		s.mem.free(s.be)
		return nil, err
	}
	s.h = h
	s.refs.init(s.teardown)
	return newSystemHandle(s), nil
}

func newSystemHandle(s *system) *System {
	h := &System{core: s}
	runtime.SetFinalizer(h, (*System).Close)
	return h
}

// check translates a system-scoped status. Callers hold callMu.
func (s *system) check(code Status) error {
	return translate(s.be, code, func(c Status, out *strbuf) {
		s.be.SystemStatusMessage(s.h, c, out.native())
	})
}

// teardown finalizes the native context and then frees the arena.
func (s *system) teardown() {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if s.h != nil {
		if code := s.be.Terminate(s.h); code != StatusOK {
			s.log.Debug("pico: terminate failed", "status", code)
		}
		s.h = nil
	}
	s.mem.free(s.be)
}

func (s *System) live() (*system, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrClosed
	}
	return s.core, nil
}

// Retain returns a new reference to the same native system.
func (s *System) Retain() *System {
	if s.closed.Load() || !s.core.refs.acquire() {
		panic("pico: Retain on closed System")
	}
	return newSystemHandle(s.core)
}

// Same reports whether s and other refer to the same native system.
func (s *System) Same(other *System) bool {
	return s != nil && other != nil && s.core == other.core
}

// ArenaSize returns the size in bytes of the arena given to the engine.
func (s *System) ArenaSize() int {
	return s.core.mem.size
}

// Refs returns the number of live references to the native system,
// including those held by Resources and Voices.
func (s *System) Refs() int {
	return s.core.refs.count()
}

// Close drops this reference. It is safe to call more than once.
func (s *System) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(s, nil)
	s.core.refs.drop()
	return nil
}

// LoadResource loads a text-analysis or speech-generation resource file.
// The resource's native name is read once and kept for its lifetime. Use
// LoadResourceKind when the role of the file is known, so NewEngine can
// verify the voice is complete.
func (s *System) LoadResource(path string) (*Resource, error) {
	return s.LoadResourceKind(path, KindUnknown)
}

// LoadResourceKind is LoadResource with the resource role recorded.
func (s *System) LoadResourceKind(path string, kind Kind) (*Resource, error) {
	core, err := s.live()
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(path, 0); i >= 0 {
		return nil, encodingError("invalid resource path", fmt.Errorf("NUL byte at position %d", i))
	}
	if !core.refs.acquire() {
		return nil, ErrClosed
	}

	core.callMu.Lock()
	h, code := core.be.LoadResource(core.h, path)
	if err := core.check(code); err != nil {
		core.callMu.Unlock()
		core.refs.drop()
		return nil, err
	}

	name := newStrbuf(core.be, MaxResourceNameSize)
	defer name.release()
	if err := core.check(core.be.ResourceName(core.h, h, name.native())); err != nil {
		if code := core.be.UnloadResource(core.h, h); code != StatusOK {
			core.log.Debug("pico: unload after failed name lookup", "path", path, "status", code)
		}
		core.callMu.Unlock()
		core.refs.drop()
		return nil, err
	}
	core.callMu.Unlock()

	r := &resource{sys: core, h: h, name: name.String(), kind: kind}
	r.refs.init(r.teardown)
	return newResourceHandle(r), nil
}

// CreateVoice registers a voice definition named name. Resources are
// attached with Voice.AddResource.
func (s *System) CreateVoice(name string) (*Voice, error) {
	core, err := s.live()
	if err != nil {
		return nil, err
	}
	if i := strings.IndexByte(name, 0); i >= 0 {
		return nil, encodingError("invalid voice name", fmt.Errorf("NUL byte at position %d", i))
	}
	if len(name) >= MaxVoiceNameSize {
		return nil, encodingError("invalid voice name", fmt.Errorf("%d bytes, limit is %d", len(name), MaxVoiceNameSize-1))
	}
	if !core.refs.acquire() {
		return nil, ErrClosed
	}

	core.callMu.Lock()
	err = core.check(core.be.CreateVoiceDefinition(core.h, name))
	core.callMu.Unlock()
	if err != nil {
		core.refs.drop()
		return nil, err
	}

	v := &voice{sys: core, name: name}
	v.refs.init(v.teardown)
	return newVoiceHandle(v), nil
}

package pico

import (
	"sync"
	"unsafe"
)

// Native limits and formats, mirroring picoapi.h / picodefs.h.
const (
	MaxVoiceNameSize    = 32
	MaxResourceNameSize = 32
	MaxMessageSize      = 200

	// MaxTransfer bounds a single PutText or GetData call, in bytes.
	MaxTransfer = 32767

	// SampleRate of the PCM produced by every engine, in Hz.
	SampleRate = 16000

	// DataPCM16Bit is the only data type tag GetData ever reports.
	DataPCM16Bit int16 = 1

	// arenaAlign is the alignment of the arena and of native string buffers.
	arenaAlign = 16
)

// Handle is an opaque native object (system, resource or engine).
type Handle unsafe.Pointer

// Backend is the fixed native ABI of the Pico engine. Each method maps to one
// native entry point; implementations perform no lifetime checking, which is
// the job of this package.
//
// String buffers passed as out point to native memory obtained from Alloc and
// hold at least MaxMessageSize (messages) or MaxResourceNameSize (names)
// bytes.
type Backend interface {
	// Alloc returns size zeroed bytes aligned to align, in memory the native
	// engine may keep pointers into. Nil means allocation failed.
	Alloc(size, align int) unsafe.Pointer
	// Free releases memory returned by Alloc.
	Free(p unsafe.Pointer)

	Initialize(mem unsafe.Pointer, size int) (Handle, Status)
	Terminate(sys Handle) Status
	SystemStatusMessage(sys Handle, code Status, out unsafe.Pointer) Status

	LoadResource(sys Handle, path string) (Handle, Status)
	ResourceName(sys, res Handle, out unsafe.Pointer) Status
	UnloadResource(sys, res Handle) Status

	CreateVoiceDefinition(sys Handle, voice string) Status
	AddResourceToVoiceDefinition(sys Handle, voice, resource string) Status
	ReleaseVoiceDefinition(sys Handle, voice string) Status

	NewEngine(sys Handle, voice string) (Handle, Status)
	DisposeEngine(sys, eng Handle) Status
	EngineStatusMessage(eng Handle, code Status, out unsafe.Pointer) Status
	// PutTextUTF8 submits len(text) <= MaxTransfer bytes and returns how many
	// were accepted.
	PutTextUTF8(eng Handle, text []byte) (int, Status)
	// GetData fills at most len(buf) <= MaxTransfer bytes of audio and
	// returns the bytes written and their data type tag.
	GetData(eng Handle, buf []byte) (int, int16, Status)
	ResetEngine(eng Handle, mode ResetMode) Status
}

var (
	defaultMu      sync.RWMutex
	defaultBackend Backend
)

// Register installs b as the backend used by Initialize when no WithBackend
// option is given. The cgo backend in package picoapi registers itself from
// init; importing it for side effects is enough:
//
//	import _ "github.com/haivivi/picotts/pkg/pico/picoapi"
func Register(b Backend) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBackend = b
}

// DefaultBackend returns the registered backend, or nil.
func DefaultBackend() Backend {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultBackend
}

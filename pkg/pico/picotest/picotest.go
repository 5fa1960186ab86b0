// Package picotest provides an in-process fake of the Pico native engine.
//
// Backend implements pico.Backend entirely in Go. It follows the parts of the
// native contract the binding depends on: arena size limits, resource files
// and their names, voice definitions, engine creation rules, partial text
// acceptance and stepwise audio output. It records an ordered event log and
// any calls made in an order the native engine would not survive, so tests
// can assert on teardown order.
//
// The audio it produces is deterministic: every byte of text flushed by a
// NUL turns into SamplesPerByte samples derived from the byte value. Expected
// computes the same samples for comparison.
package picotest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/haivivi/picotts/pkg/pico"
)

// MinArenaSize is the smallest arena Initialize accepts.
const MinArenaSize = 64 << 10

// SamplesPerByte is the number of samples produced for each byte of text.
const SamplesPerByte = 8

// resourceMagic starts every file written by WriteResource.
const resourceMagic = "PICOTEST"

// --------------------------------------------------------------------------
// Fake native objects
// --------------------------------------------------------------------------

type fakeSystem struct {
	mem       unsafe.Pointer
	resources map[*fakeResource]bool
	byName    map[string]*fakeResource
	voices    map[string]*fakeVoice
	engines   map[*fakeEngine]bool
}

type fakeResource struct {
	sys  *fakeSystem
	name string
	kind pico.Kind
}

type fakeVoice struct {
	name      string
	resources []string
	engines   int
}

type fakeEngine struct {
	sys     *fakeSystem
	voice   *fakeVoice
	pending []byte
	out     []int16
}

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// Backend is a fake pico.Backend. The zero value is not usable; call New.
type Backend struct {
	mu sync.Mutex

	// MaxAccept limits how many bytes one PutTextUTF8 call accepts. Zero
	// means no limit beyond InputCapacity.
	MaxAccept int
	// InputCapacity is the number of unflushed text bytes an engine buffers.
	InputCapacity int
	// StepSamples limits how many samples one GetData call returns.
	StepSamples int
	// DataType is the type tag GetData reports.
	DataType int16
	// MaxAlloc makes Alloc fail for requests above it when non-zero.
	MaxAlloc int
	// BadMessages makes status messages invalid UTF-8.
	BadMessages bool

	allocs     map[unsafe.Pointer][]byte
	systems    map[*fakeSystem]bool
	inject     map[string]pico.Status
	events     []string
	violations []string
}

// New returns a fake backend with defaults resembling the native engine.
func New() *Backend {
	return &Backend{
		InputCapacity: 1024,
		StepSamples:   256,
		DataType:      pico.DataPCM16Bit,
		allocs:        make(map[unsafe.Pointer][]byte),
		systems:       make(map[*fakeSystem]bool),
		inject:        make(map[string]pico.Status),
	}
}

var _ pico.Backend = (*Backend)(nil)

// Fail makes the next call of op return code. Valid ops are the method names
// of pico.Backend, e.g. "GetData" or "ResourceName".
func (b *Backend) Fail(op string, code pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inject[op] = code
}

// Events returns the native calls made so far, in order.
func (b *Backend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

// Violations returns calls the native engine would not have survived, such
// as unloading a resource a voice definition still names.
func (b *Backend) Violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.violations...)
}

// Outstanding returns the number of allocations not yet freed.
func (b *Backend) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.allocs)
}

// LiveSystems returns the number of initialized, not yet terminated systems.
func (b *Backend) LiveSystems() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.systems)
}

func (b *Backend) record(format string, args ...any) {
	b.events = append(b.events, fmt.Sprintf(format, args...))
}

func (b *Backend) violate(format string, args ...any) {
	b.violations = append(b.violations, fmt.Sprintf(format, args...))
}

func (b *Backend) injected(op string) (pico.Status, bool) {
	code, ok := b.inject[op]
	if ok {
		delete(b.inject, op)
	}
	return code, ok
}

func (b *Backend) Alloc(size, align int) unsafe.Pointer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size <= 0 || (b.MaxAlloc > 0 && size > b.MaxAlloc) {
		return nil
	}
	align = max(align, 1)
	buf := make([]byte, size+align)
	off := 0
	if r := uintptr(unsafe.Pointer(&buf[0])) % uintptr(align); r != 0 {
		off = align - int(r)
	}
	p := unsafe.Pointer(&buf[off])
	b.allocs[p] = buf[off : off+size]
	return p
}

func (b *Backend) Free(p unsafe.Pointer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.allocs[p]; !ok {
		b.violate("free of unknown pointer %p", p)
		return
	}
	delete(b.allocs, p)
}

func (b *Backend) system(h pico.Handle) *fakeSystem {
	s := (*fakeSystem)(h)
	if s == nil || !b.systems[s] {
		return nil
	}
	return s
}

func (b *Backend) Initialize(mem unsafe.Pointer, size int) (pico.Handle, pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if code, ok := b.injected("Initialize"); ok {
		return nil, code
	}
	buf, ok := b.allocs[mem]
	if !ok || len(buf) < size {
		b.violate("initialize with memory not from Alloc")
		return nil, pico.StatusInvalidArgument
	}
	if size < MinArenaSize {
		return nil, pico.StatusOutOfMem
	}
	s := &fakeSystem{
		mem:       mem,
		resources: make(map[*fakeResource]bool),
		byName:    make(map[string]*fakeResource),
		voices:    make(map[string]*fakeVoice),
		engines:   make(map[*fakeEngine]bool),
	}
	b.systems[s] = true
	b.record("initialize %d", size)
	return pico.Handle(unsafe.Pointer(s)), pico.StatusOK
}

func (b *Backend) Terminate(sys pico.Handle) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return pico.StatusInvalidHandle
	}
	if _, ok := b.allocs[s.mem]; !ok {
		b.violate("terminate after arena was freed")
	}
	if n := len(s.engines) + len(s.voices) + len(s.resources); n > 0 {
		b.violate("terminate with %d live objects", n)
	}
	delete(b.systems, s)
	b.record("terminate")
	return pico.StatusOK
}

func (b *Backend) writeMessage(code pico.Status, out unsafe.Pointer) {
	msg := []byte(message(code))
	if b.BadMessages {
		msg = append([]byte("bad \xff"), msg...)
	}
	writeCString(out, pico.MaxMessageSize, msg)
}

func (b *Backend) SystemStatusMessage(sys pico.Handle, code pico.Status, out unsafe.Pointer) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.system(sys) == nil {
		// A failed Initialize leaves no context; the native engine still
		// describes the code.
		writeCString(out, pico.MaxMessageSize, []byte(message(code)))
		return pico.StatusInvalidHandle
	}
	b.writeMessage(code, out)
	return pico.StatusOK
}

func (b *Backend) LoadResource(sys pico.Handle, path string) (pico.Handle, pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return nil, pico.StatusInvalidHandle
	}
	if code, ok := b.injected("LoadResource"); ok {
		return nil, code
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pico.StatusFileNotFound
		}
		return nil, pico.StatusCantOpenFile
	}
	kind, name, ok := parseResource(data)
	if !ok {
		return nil, pico.StatusCantOpenFile
	}
	if _, dup := s.byName[name]; dup {
		return nil, pico.StatusNameConflict
	}
	r := &fakeResource{sys: s, name: name, kind: kind}
	s.resources[r] = true
	s.byName[name] = r
	b.record("load %s", name)
	return pico.Handle(unsafe.Pointer(r)), pico.StatusOK
}

func (b *Backend) resource(s *fakeSystem, h pico.Handle) *fakeResource {
	r := (*fakeResource)(h)
	if r == nil || !s.resources[r] {
		return nil
	}
	return r
}

func (b *Backend) ResourceName(sys, res pico.Handle, out unsafe.Pointer) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return pico.StatusInvalidHandle
	}
	r := b.resource(s, res)
	if r == nil {
		return pico.StatusInvalidHandle
	}
	if code, ok := b.injected("ResourceName"); ok {
		return code
	}
	writeCString(out, pico.MaxResourceNameSize, []byte(r.name))
	return pico.StatusOK
}

func (b *Backend) UnloadResource(sys, res pico.Handle) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		b.violate("unload resource on dead system")
		return pico.StatusInvalidHandle
	}
	r := b.resource(s, res)
	if r == nil {
		return pico.StatusInvalidHandle
	}
	for _, v := range s.voices {
		for _, name := range v.resources {
			if name == r.name {
				b.violate("unload %s while voice %s uses it", r.name, v.name)
			}
		}
	}
	delete(s.resources, r)
	delete(s.byName, r.name)
	b.record("unload %s", r.name)
	return pico.StatusOK
}

func (b *Backend) CreateVoiceDefinition(sys pico.Handle, voice string) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return pico.StatusInvalidHandle
	}
	if voice == "" {
		return pico.StatusNameIllegal
	}
	if _, dup := s.voices[voice]; dup {
		return pico.StatusNameConflict
	}
	s.voices[voice] = &fakeVoice{name: voice}
	b.record("create-voice %s", voice)
	return pico.StatusOK
}

func (b *Backend) AddResourceToVoiceDefinition(sys pico.Handle, voice, resource string) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return pico.StatusInvalidHandle
	}
	v, ok := s.voices[voice]
	if !ok {
		return pico.StatusNameUndefined
	}
	if _, ok := s.byName[resource]; !ok {
		return pico.StatusNameUndefined
	}
	for _, name := range v.resources {
		if name == resource {
			return pico.StatusWarnResourceDoubleLoad
		}
	}
	v.resources = append(v.resources, resource)
	b.record("add %s %s", voice, resource)
	return pico.StatusOK
}

func (b *Backend) ReleaseVoiceDefinition(sys pico.Handle, voice string) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		b.violate("release voice %s on dead system", voice)
		return pico.StatusInvalidHandle
	}
	v, ok := s.voices[voice]
	if !ok {
		return pico.StatusNameUndefined
	}
	if v.engines > 0 {
		b.violate("release voice %s with %d live engines", voice, v.engines)
	}
	delete(s.voices, voice)
	b.record("release-voice %s", voice)
	return pico.StatusOK
}

func (b *Backend) NewEngine(sys pico.Handle, voice string) (pico.Handle, pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		return nil, pico.StatusInvalidHandle
	}
	if code, ok := b.injected("NewEngine"); ok {
		return nil, code
	}
	v, ok := s.voices[voice]
	if !ok {
		return nil, pico.StatusNameUndefined
	}
	var ta, sg bool
	for _, name := range v.resources {
		switch s.byName[name].kind {
		case pico.KindTextAnalysis:
			ta = true
		case pico.KindSpeechGeneration:
			sg = true
		}
	}
	if !ta || !sg {
		b.violate("new engine for incomplete voice %s", voice)
		return nil, pico.StatusResourceMissing
	}
	e := &fakeEngine{sys: s, voice: v}
	s.engines[e] = true
	v.engines++
	b.record("new-engine %s", voice)
	return pico.Handle(unsafe.Pointer(e)), pico.StatusOK
}

func (b *Backend) engine(h pico.Handle) *fakeEngine {
	e := (*fakeEngine)(h)
	for s := range b.systems {
		if s.engines[e] {
			return e
		}
	}
	return nil
}

func (b *Backend) DisposeEngine(sys, eng pico.Handle) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.system(sys)
	if s == nil {
		b.violate("dispose engine on dead system")
		return pico.StatusInvalidHandle
	}
	e := b.engine(eng)
	if e == nil || e.sys != s {
		return pico.StatusInvalidHandle
	}
	delete(s.engines, e)
	e.voice.engines--
	b.record("dispose-engine %s", e.voice.name)
	return pico.StatusOK
}

func (b *Backend) EngineStatusMessage(eng pico.Handle, code pico.Status, out unsafe.Pointer) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engine(eng) == nil {
		return pico.StatusInvalidHandle
	}
	b.writeMessage(code, out)
	return pico.StatusOK
}

// PutTextUTF8 buffers text up to the next NUL. A NUL turns the buffered text
// into audio; it is only accepted once the previous audio was fetched.
func (b *Backend) PutTextUTF8(eng pico.Handle, text []byte) (int, pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.engine(eng)
	if e == nil {
		return 0, pico.StatusInvalidHandle
	}
	if code, ok := b.injected("PutTextUTF8"); ok {
		return 0, code
	}
	if len(text) > pico.MaxTransfer {
		return 0, pico.StatusInvalidArgument
	}
	limit := len(text)
	if b.MaxAccept > 0 {
		limit = min(limit, b.MaxAccept)
	}
	n := 0
	for n < limit {
		c := text[n]
		if c == 0 {
			if len(e.out) > 0 {
				break
			}
			e.out = Expected(string(e.pending))
			e.pending = e.pending[:0]
		} else {
			if len(e.pending) >= b.InputCapacity {
				break
			}
			e.pending = append(e.pending, c)
		}
		n++
	}
	return n, pico.StatusOK
}

// GetData returns up to StepSamples queued samples with PICO_STEP_BUSY, and
// PICO_STEP_IDLE once nothing is queued.
func (b *Backend) GetData(eng pico.Handle, buf []byte) (int, int16, pico.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.engine(eng)
	if e == nil {
		return 0, 0, pico.StatusInvalidHandle
	}
	if code, ok := b.injected("GetData"); ok {
		return 0, 0, code
	}
	if len(buf) > pico.MaxTransfer {
		return 0, 0, pico.StatusInvalidArgument
	}
	if len(e.out) == 0 {
		return 0, b.DataType, pico.StatusStepIdle
	}
	n := min(len(buf)/2, len(e.out), b.StepSamples)
	for i, v := range e.out[:n] {
		buf[2*i] = byte(v)
		buf[2*i+1] = byte(uint16(v) >> 8)
	}
	e.out = e.out[n:]
	return 2 * n, b.DataType, pico.StatusStepBusy
}

func (b *Backend) ResetEngine(eng pico.Handle, mode pico.ResetMode) pico.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.engine(eng)
	if e == nil {
		return pico.StatusInvalidHandle
	}
	if mode != pico.ResetFull && mode != pico.ResetSoft {
		return pico.StatusInvalidArgument
	}
	e.pending = e.pending[:0]
	e.out = nil
	b.record("reset %s %s", e.voice.name, mode)
	return pico.StatusOK
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// Expected returns the samples the fake engine produces for text once it is
// flushed. NUL bytes in text are skipped.
func Expected(text string) []int16 {
	var out []int16
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == 0 {
			continue
		}
		for j := 0; j < SamplesPerByte; j++ {
			out = append(out, int16((int(c)*256+j*1021)%65536-32768))
		}
	}
	return out
}

// WriteResource writes a resource file the fake can load into dir and
// returns its path, dir/name.bin. The loaded resource is named name. Names
// following the native convention (en-US_ta, en-US_lh0_sg) give paths that
// pico.KindFromFileName recognizes.
func WriteResource(dir string, kind pico.Kind, name string) (string, error) {
	path := filepath.Join(dir, name+".bin")
	data := fmt.Sprintf("%s %s %s\n", resourceMagic, kind, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("picotest: write resource: %w", err)
	}
	return path, nil
}

func parseResource(data []byte) (pico.Kind, string, bool) {
	fields := strings.Fields(string(data))
	if len(fields) != 3 || fields[0] != resourceMagic {
		return pico.KindUnknown, "", false
	}
	var kind pico.Kind
	switch fields[1] {
	case "ta":
		kind = pico.KindTextAnalysis
	case "sg":
		kind = pico.KindSpeechGeneration
	default:
		return pico.KindUnknown, "", false
	}
	return kind, fields[2], true
}

func writeCString(out unsafe.Pointer, capacity int, s []byte) {
	dst := unsafe.Slice((*byte)(out), capacity)
	n := copy(dst[:capacity-1], s)
	clear(dst[n:])
}

var messages = map[pico.Status]string{
	pico.StatusFileNotFound:           "file not found",
	pico.StatusCantOpenFile:           "can't open file",
	pico.StatusUnexpectedFileType:     "unexpected file type",
	pico.StatusNameConflict:           "name conflict",
	pico.StatusNameUndefined:          "name undefined",
	pico.StatusNameIllegal:            "illegal name",
	pico.StatusOutOfMem:               "out of memory",
	pico.StatusResourceBusy:           "resource busy",
	pico.StatusResourceMissing:        "resource missing",
	pico.StatusInvalidHandle:          "invalid handle",
	pico.StatusInvalidArgument:        "invalid argument",
	pico.StatusStepError:              "step error",
	pico.StatusWarnResourceDoubleLoad: "resource already loaded",
}

func message(code pico.Status) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return "unknown status " + code.String()
}

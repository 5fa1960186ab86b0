package pico

import (
	"fmt"
	"runtime"
	"unsafe"
)

// StepStatus is the engine state reported by GetData.
type StepStatus int32

const (
	// Idle means no more audio will be produced until more text is put.
	Idle StepStatus = StepStatus(StatusStepIdle)
	// Busy means generation is ongoing; call GetData again.
	Busy StepStatus = StepStatus(StatusStepBusy)
)

func (s StepStatus) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	}
	return fmt.Sprintf("StepStatus(%d)", int32(s))
}

// ResetMode selects how Reset clears an engine.
type ResetMode int32

const (
	// ResetFull is the recovery action after an engine error.
	ResetFull ResetMode = 0
	// ResetSoft flushes the input and output buffers and keeps the
	// configuration.
	ResetSoft ResetMode = 16
)

func (m ResetMode) String() string {
	switch m {
	case ResetFull:
		return "full"
	case ResetSoft:
		return "soft"
	}
	return fmt.Sprintf("ResetMode(%d)", int32(m))
}

// Engine is a synthesis session bound to one Voice. It is not shared: the
// goroutine that created it owns it until Close.
//
// Text goes in with PutText, audio comes out with GetData. Speech is only
// complete after all text was put, a NUL byte was put (or Flush called), and
// GetData was called until it reported Idle. See Synthesize for the whole
// sequence.
type Engine struct {
	voice *voice
	h     Handle
}

// check translates an engine-scoped status. Callers hold the system callMu.
func (e *Engine) check(code Status) error {
	be := e.voice.sys.be
	return translate(be, code, func(c Status, out *strbuf) {
		be.EngineStatusMessage(e.h, c, out.native())
	})
}

// Voice returns a new reference to the engine's voice. The caller must
// close it.
func (e *Engine) Voice() *Voice {
	if !e.voice.refs.acquire() {
		panic("pico: engine outlived its voice")
	}
	return newVoiceHandle(e.voice)
}

// PutText feeds UTF-8 text to the engine. At most MaxTransfer bytes of p are
// offered; the return value is how many the engine accepted, which may be
// fewer. Callers loop, advancing p, until everything is in.
//
// A NUL byte in the text makes the engine synthesize what it has buffered.
func (e *Engine) PutText(p []byte) (int, error) {
	if e.h == nil {
		return 0, ErrClosed
	}
	p = p[:min(len(p), MaxTransfer)]

	s := e.voice.sys
	s.callMu.Lock()
	defer s.callMu.Unlock()
	n, code := s.be.PutTextUTF8(e.h, p)
	if err := e.check(code); err != nil {
		return 0, err
	}
	return n, nil
}

// Flush puts a single NUL byte, forcing synthesis of the buffered text.
func (e *Engine) Flush() (int, error) {
	return e.PutText([]byte{0})
}

// GetData runs one synthesis step, writing 16-bit signed mono PCM at
// SampleRate into buf. At most MaxTransfer bytes are requested. It returns
// the number of samples written and whether the engine is still Busy.
//
// GetData panics if the engine reports a data type other than 16-bit PCM:
// the native engine only ever produces that format.
func (e *Engine) GetData(buf []int16) (int, StepStatus, error) {
	if e.h == nil {
		return 0, Idle, ErrClosed
	}
	var raw []byte
	if size := min(len(buf)*2, MaxTransfer) &^ 1; size > 0 {
		raw = unsafe.Slice((*byte)(unsafe.Pointer(&buf[0])), size)
	}

	s := e.voice.sys
	s.callMu.Lock()
	defer s.callMu.Unlock()
	n, dtype, code := s.be.GetData(e.h, raw)
	switch code {
	case StatusStepBusy, StatusStepIdle:
		if dtype != DataPCM16Bit {
			panic(fmt.Sprintf("pico: engine produced data type %d, want 16-bit PCM (%d)", dtype, DataPCM16Bit))
		}
		return n / 2, StepStatus(code), nil
	}
	return 0, Idle, s.check(code)
}

// Reset clears the engine. Use ResetFull after GetData or PutText failed.
func (e *Engine) Reset(mode ResetMode) error {
	if e.h == nil {
		return ErrClosed
	}
	s := e.voice.sys
	s.callMu.Lock()
	defer s.callMu.Unlock()
	return e.check(s.be.ResetEngine(e.h, mode))
}

// Close disposes the native engine and releases the voice reference. It is
// safe to call more than once.
func (e *Engine) Close() error {
	if e == nil || e.h == nil {
		return nil
	}
	runtime.SetFinalizer(e, nil)

	s := e.voice.sys
	s.callMu.Lock()
	if code := s.be.DisposeEngine(s.h, e.h); code != StatusOK {
		s.log.Debug("pico: dispose engine failed", "voice", e.voice.name, "status", code)
	}
	e.h = nil
	s.callMu.Unlock()

	e.voice.refs.drop()
	return nil
}

package pico

import (
	"bytes"
	"fmt"
	"unicode/utf8"
	"unsafe"
)

// strbuf is a fixed-capacity, NUL-terminated string buffer in native memory
// that the engine writes names and status messages into. It is released
// exactly once; release on an already released buffer does nothing.
type strbuf struct {
	be  Backend
	ptr unsafe.Pointer
	cap int
}

// newStrbuf allocates a zeroed buffer of capacity bytes. It panics if the
// backend cannot allocate, like the runtime does on out-of-memory.
func newStrbuf(be Backend, capacity int) *strbuf {
	p := be.Alloc(capacity, arenaAlign)
	if p == nil {
		panic(fmt.Sprintf("pico: cannot allocate %d byte string buffer", capacity))
	}
	return &strbuf{be: be, ptr: p, cap: capacity}
}

// native returns the pointer handed to native calls.
func (b *strbuf) native() unsafe.Pointer {
	return b.ptr
}

// Bytes returns a copy of the contents up to the first NUL, or up to the
// capacity when the native side did not terminate the string.
func (b *strbuf) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}
	raw := unsafe.Slice((*byte)(b.ptr), b.cap)
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return bytes.Clone(raw)
}

// String returns the contents without validating the encoding.
func (b *strbuf) String() string {
	return string(b.Bytes())
}

// Text returns the contents as UTF-8 text.
func (b *strbuf) Text() (string, error) {
	raw := b.Bytes()
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("invalid utf-8 sequence at byte %d", invalidAt(raw))
	}
	return string(raw), nil
}

func (b *strbuf) release() {
	if b.ptr == nil {
		return
	}
	b.be.Free(b.ptr)
	b.ptr = nil
}

func invalidAt(p []byte) int {
	for i := 0; i < len(p); {
		r, n := utf8.DecodeRune(p[i:])
		if r == utf8.RuneError && n == 1 {
			return i
		}
		i += n
	}
	return len(p)
}

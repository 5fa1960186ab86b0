// Package wav writes and reads canonical 44-byte-header RIFF/WAVE files
// holding 16-bit PCM.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/haivivi/picotts/pkg/audio/pcm"
)

// HeaderSize is the size of the canonical header written by this package.
const HeaderSize = 44

// ErrFormat is returned by Decode for input that is not 16-bit PCM WAVE.
var ErrFormat = errors.New("wav: not a 16-bit PCM wave file")

// Header returns the 44-byte header for dataSize bytes of PCM in format f.
func Header(f pcm.Format, dataSize int) []byte {
	h := make([]byte, 0, HeaderSize)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(36+dataSize))
	h = append(h, "WAVE"...)

	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, 16) // sub-chunk size
	h = binary.LittleEndian.AppendUint16(h, 1)  // PCM
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Channels()))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.SampleRate()))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.BytesRate()))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Channels()*f.Depth()/8))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Depth()))

	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(dataSize))
	return h
}

// Encode writes samples to w as a complete WAVE file.
func Encode(w io.Writer, f pcm.Format, samples []int16) error {
	if _, err := w.Write(Header(f, len(samples)*2)); err != nil {
		return err
	}
	_, err := w.Write(pcm.Int16ToBytes(samples))
	return err
}

// Decode reads a WAVE file written by Encode or Writer.
func Decode(r io.Reader) (pcm.Format, []int16, error) {
	h := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, h); err != nil {
		return 0, nil, fmt.Errorf("wav: read header: %w", err)
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[12:16]) != "fmt " || string(h[36:40]) != "data" {
		return 0, nil, ErrFormat
	}
	if binary.LittleEndian.Uint16(h[20:]) != 1 || binary.LittleEndian.Uint16(h[22:]) != 1 || binary.LittleEndian.Uint16(h[34:]) != 16 {
		return 0, nil, ErrFormat
	}
	f, err := pcm.FormatForRate(int(binary.LittleEndian.Uint32(h[24:])))
	if err != nil {
		return 0, nil, err
	}
	data := make([]byte, binary.LittleEndian.Uint32(h[40:]))
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, fmt.Errorf("wav: read data: %w", err)
	}
	samples, err := pcm.BytesToInt16(data)
	if err != nil {
		return 0, nil, err
	}
	return f, samples, nil
}

// Writer streams samples into a WAVE file. When the destination is an
// io.WriteSeeker the header is written up front and patched on Close;
// otherwise the audio is buffered and written in one piece on Close.
type Writer struct {
	w      io.Writer
	ws     io.WriteSeeker
	f      pcm.Format
	buf    bytes.Buffer
	size   int
	header bool
	closed bool
}

// NewWriter returns a Writer producing a file in format f.
func NewWriter(w io.Writer, f pcm.Format) *Writer {
	wr := &Writer{w: w, f: f}
	if ws, ok := w.(io.WriteSeeker); ok {
		wr.ws = ws
	}
	return wr
}

// Write appends samples.
func (w *Writer) Write(samples []int16) error {
	if w.closed {
		return errors.New("wav: write after close")
	}
	raw := pcm.Int16ToBytes(samples)
	if w.ws == nil {
		w.buf.Write(raw)
		w.size += len(raw)
		return nil
	}
	if !w.header {
		if _, err := w.ws.Write(Header(w.f, 0)); err != nil {
			return err
		}
		w.header = true
	}
	n, err := w.ws.Write(raw)
	w.size += n
	return err
}

// Len returns the number of PCM bytes written so far.
func (w *Writer) Len() int {
	return w.size
}

// Close finishes the file. It does not close the destination.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.ws == nil {
		if _, err := w.w.Write(Header(w.f, w.size)); err != nil {
			return err
		}
		_, err := w.buf.WriteTo(w.w)
		return err
	}

	if !w.header {
		_, err := w.ws.Write(Header(w.f, 0))
		return err
	}
	if _, err := w.ws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.ws.Write(Header(w.f, w.size)); err != nil {
		return err
	}
	_, err := w.ws.Seek(0, io.SeekEnd)
	return err
}

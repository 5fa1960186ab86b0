package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/haivivi/picotts/pkg/audio/pcm"
)

func TestHeader(t *testing.T) {
	h := Header(pcm.L16Mono16K, 3200)
	if len(h) != HeaderSize {
		t.Fatalf("header length = %d, want %d", len(h), HeaderSize)
	}
	if string(h[:4]) != "RIFF" || string(h[8:16]) != "WAVEfmt " || string(h[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", h)
	}
	checks := []struct {
		name string
		off  int
		want uint32
	}{
		{"riff size", 4, 36 + 3200},
		{"sample rate", 24, 16000},
		{"byte rate", 28, 32000},
		{"data size", 40, 3200},
	}
	for _, c := range checks {
		if got := binary.LittleEndian.Uint32(h[c.off:]); got != c.want {
			t.Errorf("%s = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	var buf bytes.Buffer
	if err := Encode(&buf, pcm.L16Mono24K, samples); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != HeaderSize+len(samples)*2 {
		t.Fatalf("file size = %d", buf.Len())
	}
	f, got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if f != pcm.L16Mono24K {
		t.Errorf("format = %v", f)
	}
	if !slices.Equal(got, samples) {
		t.Errorf("samples = %v, want %v", got, samples)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(bytes.Repeat([]byte("x"), HeaderSize)))
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("Decode = %v, want ErrFormat", err)
	}
}

func TestWriterBuffered(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, pcm.L16Mono16K)
	for i := range 4 {
		if err := w.Write([]int16{int16(i), int16(-i)}); err != nil {
			t.Fatal(err)
		}
	}
	if buf.Len() != 0 {
		t.Fatal("buffered writer wrote before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]int16{1}); err == nil {
		t.Error("Write after Close succeeded")
	}

	_, got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int16{0, 0, 1, -1, 2, -2, 3, -3}; !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}

func TestWriterSeekable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(f, pcm.L16Mono16K)
	if err := w.Write([]int16{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]int16{4}); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 8 {
		t.Errorf("Len = %d, want 8", w.Len())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	_, got, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if want := []int16{1, 2, 3, 4}; !slices.Equal(got, want) {
		t.Errorf("samples = %v, want %v", got, want)
	}
}

func TestWriterEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(f, pcm.L16Mono16K)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, _ := os.ReadFile(path)
	if len(data) != HeaderSize {
		t.Fatalf("empty file size = %d, want %d", len(data), HeaderSize)
	}
}

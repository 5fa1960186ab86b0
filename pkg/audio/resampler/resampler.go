package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/picotts/pkg/audio/pcm"
)

// flushPadding is the silence, in input samples, pushed through the filter
// on Flush on top of its reported latency. Intermediate stages only run on
// full chunks, so the latency alone does not empty them.
const flushPadding = 4096

// Stream converts consecutive chunks of mono 16-bit audio from one sample
// rate to another. Filter state carries across Process calls, so a stream
// must only be fed one utterance's chunks in order, followed by Flush. It
// is not safe for concurrent use.
type Stream struct {
	from, to pcm.Format
	rs       resampling.Resampler

	// in and out count the samples of the current utterance.
	in, out int64
}

// New returns a Stream converting from one format to another. Equal formats
// give a pass-through stream.
func New(from, to pcm.Format) (*Stream, error) {
	s := &Stream{from: from, to: to}
	if from.SampleRate() == to.SampleRate() {
		return s, nil
	}
	config := &resampling.Config{
		InputRate:  float64(from.SampleRate()),
		OutputRate: float64(to.SampleRate()),
		Channels:   to.Channels(),
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	}
	rs, err := resampling.New(config)
	if err != nil {
		return nil, fmt.Errorf("resampler: create %d->%d: %w", from.SampleRate(), to.SampleRate(), err)
	}
	s.rs = rs
	return s, nil
}

// From returns the input format.
func (s *Stream) From() pcm.Format { return s.from }

// To returns the output format.
func (s *Stream) To() pcm.Format { return s.to }

// Process converts one chunk. The result may be shorter or longer than the
// rate ratio suggests while the filter fills.
func (s *Stream) Process(samples []int16) ([]int16, error) {
	if s.rs == nil {
		return append([]int16(nil), samples...), nil
	}
	if len(samples) == 0 {
		return nil, nil
	}

	input := make([]float64, len(samples))
	for i, v := range samples {
		input[i] = float64(v) / 32768.0
	}
	output, err := s.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}
	s.in += int64(len(samples))
	out := s.trim(output)
	return toInt16(out), nil
}

// Flush returns the rest of the utterance held in the filter, so that the
// whole output is len(input)*to/from samples long. The stream is then
// ready for the next utterance.
func (s *Stream) Flush() ([]int16, error) {
	if s.rs == nil {
		return nil, nil
	}
	defer func() {
		s.rs.Reset()
		s.in, s.out = 0, 0
	}()
	if s.in == 0 {
		return nil, nil
	}

	pad := make([]float64, int(float64(s.rs.GetLatency())/s.rs.GetRatio())+flushPadding)
	output, err := s.rs.Process(pad)
	if err != nil {
		return nil, fmt.Errorf("resampler: flush: %w", err)
	}
	rest, err := s.rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("resampler: flush: %w", err)
	}
	tail := s.trim(append(output, rest...))
	return toInt16(tail), nil
}

// trim cuts output so that no more than the expected number of samples for
// the input seen so far is ever returned.
func (s *Stream) trim(output []float64) []float64 {
	want := s.in * int64(s.to.SampleRate()) / int64(s.from.SampleRate())
	left := max(want-s.out, 0)
	if int64(len(output)) > left {
		output = output[:left]
	}
	s.out += int64(len(output))
	return output
}

func toInt16(output []float64) []int16 {
	out := make([]int16, len(output))
	for i, v := range output {
		switch {
		case v > 1.0:
			out[i] = 32767
		case v < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(v * 32767.0)
		}
	}
	return out
}

// Resample converts a whole utterance, including the filter tail.
func Resample(samples []int16, from, to pcm.Format) ([]int16, error) {
	s, err := New(from, to)
	if err != nil {
		return nil, err
	}
	out, err := s.Process(samples)
	if err != nil {
		return nil, err
	}
	tail, err := s.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

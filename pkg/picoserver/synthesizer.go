// Package picoserver serves Pico synthesis over HTTP and WebSocket.
//
// The native engine is single-threaded, so a Synthesizer confines the
// System, its voices and their engines to one worker goroutine. Requests
// from any goroutine are queued to it and run one at a time.
package picoserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/haivivi/picotts/pkg/pico"
	"github.com/haivivi/picotts/pkg/speechcache"
)

// DefaultArenaSize is the arena size used when Config.ArenaSize is zero.
const DefaultArenaSize = 4 << 20

// SampleRate is the rate of the audio the engine produces.
const SampleRate = pico.SampleRate

var (
	// ErrUnknownVoice is returned for a voice name that is not configured.
	ErrUnknownVoice = errors.New("picoserver: unknown voice")
	// ErrEmptyText is returned when there is nothing to speak.
	ErrEmptyText = errors.New("picoserver: empty text")
	// ErrStopped is returned after Close.
	ErrStopped = errors.New("picoserver: synthesizer stopped")
)

// VoiceSpec describes a voice to build at startup. Resources are local file
// paths; their kind is taken from the file name.
type VoiceSpec struct {
	Name      string
	Resources []string
}

// VoiceInfo describes a loaded voice.
type VoiceInfo struct {
	Name      string   `json:"name" yaml:"name"`
	Resources []string `json:"resources" yaml:"resources"`
}

// Config configures a Synthesizer.
type Config struct {
	ArenaSize int
	Voices    []VoiceSpec

	// Cache, if set, is consulted before synthesis and filled after it.
	// The Synthesizer does not close it.
	Cache *speechcache.Cache

	// Backend overrides the registered native backend.
	Backend pico.Backend

	Logger *slog.Logger
}

type job struct {
	ctx   context.Context
	voice string
	text  string
	emit  func([]int16) error
	done  chan error
}

// voiceState is owned by the worker goroutine.
type voiceState struct {
	voice  *pico.Voice
	engine *pico.Engine
}

// Synthesizer runs every native call on its own goroutine.
type Synthesizer struct {
	log    *slog.Logger
	cache  *speechcache.Cache
	voices []VoiceInfo

	jobs      chan *job
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewSynthesizer initializes the engine and builds every configured voice
// on a new worker goroutine. It returns once the voices are ready, or with
// the first error, in which case nothing is left running.
func NewSynthesizer(cfg Config) (*Synthesizer, error) {
	if len(cfg.Voices) == 0 {
		return nil, errors.New("picoserver: no voices configured")
	}
	if cfg.ArenaSize == 0 {
		cfg.ArenaSize = DefaultArenaSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Synthesizer{
		log:     log,
		cache:   cfg.Cache,
		jobs:    make(chan *job),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	ready := make(chan error, 1)
	go s.run(cfg, ready)
	if err := <-ready; err != nil {
		<-s.stopped
		return nil, err
	}
	return s, nil
}

func (s *Synthesizer) run(cfg Config, ready chan<- error) {
	defer close(s.stopped)

	opts := []pico.Option{pico.WithLogger(s.log)}
	if cfg.Backend != nil {
		opts = append(opts, pico.WithBackend(cfg.Backend))
	}
	sys, err := pico.Initialize(cfg.ArenaSize, opts...)
	if err != nil {
		ready <- fmt.Errorf("picoserver: initialize: %w", err)
		return
	}
	voices := make(map[string]*voiceState)
	defer func() {
		for _, vs := range voices {
			if vs.engine != nil {
				vs.engine.Close()
			}
			vs.voice.Close()
		}
		sys.Close()
	}()

	for _, spec := range cfg.Voices {
		if _, dup := voices[spec.Name]; dup {
			ready <- fmt.Errorf("picoserver: voice %q configured twice", spec.Name)
			return
		}
		vs, err := buildVoice(sys, spec)
		if vs != nil {
			voices[spec.Name] = vs
		}
		if err != nil {
			ready <- fmt.Errorf("picoserver: voice %s: %w", spec.Name, err)
			return
		}
		s.voices = append(s.voices, VoiceInfo{Name: spec.Name, Resources: vs.voice.ResourceNames()})
		s.log.Debug("picoserver: voice ready", "voice", spec.Name, "resources", len(spec.Resources))
	}
	ready <- nil

	for {
		select {
		case j := <-s.jobs:
			vs, ok := voices[j.voice]
			if !ok {
				j.done <- fmt.Errorf("%w: %q", ErrUnknownVoice, j.voice)
				continue
			}
			j.done <- vs.engine.Synthesize(j.ctx, j.text, j.emit)
		case <-s.quit:
			return
		}
	}
}

// buildVoice returns the voice even on error so the caller can close it.
func buildVoice(sys *pico.System, spec VoiceSpec) (*voiceState, error) {
	v, err := sys.CreateVoice(spec.Name)
	if err != nil {
		return nil, err
	}
	vs := &voiceState{voice: v}
	for _, path := range spec.Resources {
		r, err := sys.LoadResourceKind(path, pico.KindFromFileName(path))
		if err != nil {
			return vs, err
		}
		err = v.AddResource(r)
		r.Close()
		if err != nil {
			return vs, err
		}
	}
	vs.engine, err = v.NewEngine()
	return vs, err
}

// Voices lists the loaded voices in configuration order.
func (s *Synthesizer) Voices() []VoiceInfo {
	return slices.Clone(s.voices)
}

// Voice returns the named voice.
func (s *Synthesizer) Voice(name string) (VoiceInfo, bool) {
	for _, v := range s.voices {
		if v.Name == name {
			return v, true
		}
	}
	return VoiceInfo{}, false
}

// Stream synthesizes text with voice, passing audio to emit as it is
// produced. emit may run on the worker goroutine and the chunk is only
// valid during the call. The returned count is the number of samples emitted.
//
// With a cache configured, a cached utterance is replayed in steps of
// pico.DefaultStepSamples and a fresh one is stored once complete.
func (s *Synthesizer) Stream(ctx context.Context, voice, text string, emit func([]int16) error) (int, error) {
	info, ok := s.Voice(voice)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
	}
	if text == "" {
		return 0, ErrEmptyText
	}

	var key string
	if s.cache != nil {
		key = speechcache.Key(info.Name, info.Resources, text)
		e, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			s.log.Debug("picoserver: cache hit", "voice", voice, "samples", len(e.Samples))
			return replay(e.Samples, emit)
		case !errors.Is(err, speechcache.ErrNotFound):
			s.log.Warn("picoserver: cache lookup failed", "voice", voice, "error", err)
			key = ""
		}
	}

	var all []int16
	n := 0
	err := s.submit(ctx, voice, text, func(chunk []int16) error {
		n += len(chunk)
		if key != "" {
			all = append(all, chunk...)
		}
		return emit(chunk)
	})
	if err != nil {
		return n, err
	}
	if key != "" {
		err := s.cache.Put(ctx, &speechcache.Entry{
			Key:        key,
			Voice:      voice,
			Text:       text,
			SampleRate: SampleRate,
			Samples:    all,
		})
		if err != nil {
			s.log.Warn("picoserver: cache store failed", "voice", voice, "error", err)
		}
	}
	return n, nil
}

// Speak synthesizes text with voice and returns all samples.
func (s *Synthesizer) Speak(ctx context.Context, voice, text string) ([]int16, error) {
	var out []int16
	_, err := s.Stream(ctx, voice, text, func(chunk []int16) error {
		out = append(out, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Synthesizer) submit(ctx context.Context, voice, text string, emit func([]int16) error) error {
	j := &job{ctx: ctx, voice: voice, text: text, emit: emit, done: make(chan error, 1)}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	// The worker owns emit until it reports back.
	return <-j.done
}

func replay(samples []int16, emit func([]int16) error) (int, error) {
	n := 0
	for len(samples) > 0 {
		step := min(len(samples), pico.DefaultStepSamples)
		if err := emit(samples[:step]); err != nil {
			return n, err
		}
		n += step
		samples = samples[step:]
	}
	return n, nil
}

// Close stops the worker and releases the engine. Queued requests fail with
// ErrStopped.
func (s *Synthesizer) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.stopped
	return nil
}

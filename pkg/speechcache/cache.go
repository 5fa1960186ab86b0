// Package speechcache stores synthesized utterances so that repeated text is
// not synthesized again.
//
// An utterance is identified by the voice that spoke it (its name and the
// names of its resources, in order) and the exact text. Entries are encoded
// with msgpack; the PCM inside is zstd-compressed. Storage is pluggable:
// Badger for persistence, Memory for tests and short-lived processes.
package speechcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/picotts/pkg/audio/pcm"
)

// keyPrefix namespaces utterances in the underlying store.
const keyPrefix = "utt:"

// Entry is one cached utterance.
type Entry struct {
	Key        string
	Voice      string
	Text       string
	SampleRate int
	Samples    []int16
	CreatedAt  time.Time
}

// Info describes a cached utterance without its audio.
type Info struct {
	Key        string
	Voice      string
	Text       string
	SampleRate int
	Samples    int
	// Size is the number of bytes the entry occupies in the store.
	Size      int
	CreatedAt time.Time
}

// Duration returns the play time of the utterance.
func (i Info) Duration() time.Duration {
	return time.Duration(i.Samples) * time.Second / time.Duration(max(i.SampleRate, 1))
}

// Stats summarizes the cache contents and this process's lookups.
type Stats struct {
	Entries     int
	StoredBytes int64
	// PCMBytes is the uncompressed size of all cached audio.
	PCMBytes int64
	Hits     int64
	Misses   int64
}

// stored is the msgpack form of an Entry.
type stored struct {
	Voice      string    `msgpack:"voice"`
	Text       string    `msgpack:"text"`
	SampleRate int       `msgpack:"rate"`
	NumSamples int       `msgpack:"n"`
	PCM        []byte    `msgpack:"pcm"`
	CreatedAt  time.Time `msgpack:"created"`
}

// Key returns the cache key for text spoken by a voice.
func Key(voice string, resources []string, text string) string {
	h := sha256.New()
	h.Write([]byte(voice))
	h.Write([]byte{0})
	for _, r := range resources {
		h.Write([]byte(r))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Option configures New.
type Option func(*Cache)

// WithLogger sets the logger. If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// Cache is a store of synthesized utterances. It is safe for concurrent use
// if its Store is.
type Cache struct {
	store Store
	log   *slog.Logger
	enc   *zstd.Encoder
	dec   *zstd.Decoder

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Cache on top of store. Closing the Cache closes the store.
func New(store Store, opts ...Option) (*Cache, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("speechcache: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("speechcache: create zstd decoder: %w", err)
	}
	c := &Cache{store: store, log: slog.Default(), enc: enc, dec: dec}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the entry for key, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := c.store.Get(ctx, keyPrefix+key)
	if errors.Is(err, ErrNotFound) {
		c.misses.Add(1)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("speechcache: get %s: %w", key, err)
	}

	var s stored
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("speechcache: decode %s: %w", key, err)
	}
	data, err := c.dec.DecodeAll(s.PCM, make([]byte, 0, s.NumSamples*2))
	if err != nil {
		return nil, fmt.Errorf("speechcache: decompress %s: %w", key, err)
	}
	samples, err := pcm.BytesToInt16(data)
	if err != nil {
		return nil, fmt.Errorf("speechcache: %s: %w", key, err)
	}
	c.hits.Add(1)
	return &Entry{
		Key:        key,
		Voice:      s.Voice,
		Text:       s.Text,
		SampleRate: s.SampleRate,
		Samples:    samples,
		CreatedAt:  s.CreatedAt,
	}, nil
}

// Put stores e under e.Key. A zero CreatedAt is set to the current time.
func (c *Cache) Put(ctx context.Context, e *Entry) error {
	if e.Key == "" {
		return errors.New("speechcache: entry has no key")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	raw, err := msgpack.Marshal(&stored{
		Voice:      e.Voice,
		Text:       e.Text,
		SampleRate: e.SampleRate,
		NumSamples: len(e.Samples),
		PCM:        c.enc.EncodeAll(pcm.Int16ToBytes(e.Samples), nil),
		CreatedAt:  created.UTC(),
	})
	if err != nil {
		return fmt.Errorf("speechcache: encode %s: %w", e.Key, err)
	}
	if err := c.store.Set(ctx, keyPrefix+e.Key, raw); err != nil {
		return fmt.Errorf("speechcache: put %s: %w", e.Key, err)
	}
	c.log.Debug("speechcache: stored utterance", "key", e.Key, "voice", e.Voice, "samples", len(e.Samples), "bytes", len(raw))
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, keyPrefix+key)
}

// List iterates over all cached utterances in key order.
func (c *Cache) List(ctx context.Context) iter.Seq2[Info, error] {
	return func(yield func(Info, error) bool) {
		for rec, err := range c.store.List(ctx, keyPrefix) {
			if err != nil {
				yield(Info{}, err)
				return
			}
			var s stored
			if err := msgpack.Unmarshal(rec.Value, &s); err != nil {
				if !yield(Info{}, fmt.Errorf("speechcache: decode %s: %w", rec.Key, err)) {
					return
				}
				continue
			}
			info := Info{
				Key:        rec.Key[len(keyPrefix):],
				Voice:      s.Voice,
				Text:       s.Text,
				SampleRate: s.SampleRate,
				Samples:    s.NumSamples,
				Size:       len(rec.Value),
				CreatedAt:  s.CreatedAt,
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

// Stats counts the cached entries and reports lookup counters.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	for info, err := range c.List(ctx) {
		if err != nil {
			return st, err
		}
		st.Entries++
		st.StoredBytes += int64(info.Size)
		st.PCMBytes += int64(info.Samples) * 2
	}
	return st, nil
}

// Clear removes every cached utterance and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var keys []string
	for rec, err := range c.store.List(ctx, keyPrefix) {
		if err != nil {
			return 0, err
		}
		keys = append(keys, rec.Key)
	}
	for i, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return i, fmt.Errorf("speechcache: clear: %w", err)
		}
	}
	return len(keys), nil
}

// Close releases the codecs and closes the store.
func (c *Cache) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.store.Close()
}

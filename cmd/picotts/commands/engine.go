package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/haivivi/picotts/cmd/picotts/internal/config"
	"github.com/haivivi/picotts/pkg/picoserver"
	"github.com/haivivi/picotts/pkg/speechcache"
	"github.com/haivivi/picotts/pkg/storage"
)

// splitLocation splits "s3://bucket/dir/file" into "s3://bucket/dir" and
// "file".
func splitLocation(loc string) (root, name string) {
	i := strings.LastIndex(loc, "/")
	return loc[:i], loc[i+1:]
}

// fetchResource returns a local path for a resource location. Relative
// names are looked up in the language directory; remote files are copied
// into dir.
func fetchResource(ctx context.Context, cfg *config.Config, loc, dir string) (string, error) {
	if !strings.Contains(loc, "://") {
		if filepath.IsAbs(loc) || !strings.Contains(cfg.LangDir, "://") {
			if filepath.IsAbs(loc) {
				return loc, nil
			}
			return filepath.Join(cfg.LangDir, loc), nil
		}
		loc = strings.TrimSuffix(cfg.LangDir, "/") + "/" + loc
	}
	root, name := splitLocation(loc)
	fs, err := storage.Open(ctx, root, cfg.S3)
	if err != nil {
		return "", err
	}
	slog.Debug("fetching resource", "location", loc)
	return storage.Fetch(ctx, fs, name, dir)
}

func cacheDir(cfg *config.Config, sub string) (string, error) {
	dir, err := cfg.ResolvedCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sub), nil
}

func openCache(cfg *config.Config) (*speechcache.Cache, error) {
	dir, err := cacheDir(cfg, "speech")
	if err != nil {
		return nil, err
	}
	store, err := speechcache.NewBadger(speechcache.BadgerOptions{Dir: dir, Logger: slog.Default()})
	if err != nil {
		return nil, err
	}
	return speechcache.New(store, speechcache.WithLogger(slog.Default()))
}

// engine bundles a synthesizer with the cache it was given.
type engine struct {
	*picoserver.Synthesizer
	cache *speechcache.Cache
}

func (e *engine) Close() error {
	err := e.Synthesizer.Close()
	if e.cache != nil {
		if cerr := e.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openEngine builds the named voices, or every configured voice when names
// is empty.
func openEngine(ctx context.Context, cfg *config.Config, names []string, useCache bool) (*engine, error) {
	voices := cfg.Voices
	if len(names) > 0 {
		voices = nil
		for _, n := range names {
			v, err := cfg.Voice(n)
			if err != nil {
				return nil, err
			}
			voices = append(voices, v)
		}
	}
	if len(voices) == 0 {
		return nil, fmt.Errorf("no voices configured")
	}

	fetchDir, err := cacheDir(cfg, "resources")
	if err != nil {
		return nil, err
	}
	specs := make([]picoserver.VoiceSpec, 0, len(voices))
	for _, v := range voices {
		spec := picoserver.VoiceSpec{Name: v.Name}
		for _, loc := range []string{v.TA, v.SG} {
			path, err := fetchResource(ctx, cfg, loc, fetchDir)
			if err != nil {
				return nil, fmt.Errorf("voice %s: %w", v.Name, err)
			}
			spec.Resources = append(spec.Resources, path)
		}
		specs = append(specs, spec)
	}

	e := &engine{}
	if useCache {
		if e.cache, err = openCache(cfg); err != nil {
			return nil, err
		}
	}
	e.Synthesizer, err = picoserver.NewSynthesizer(picoserver.Config{
		ArenaSize: cfg.ArenaSize,
		Voices:    specs,
		Cache:     e.cache,
		Logger:    slog.Default(),
	})
	if err != nil {
		if e.cache != nil {
			e.cache.Close()
		}
		return nil, err
	}
	return e, nil
}

// openOutput opens target for writing: a local path or an s3:// URL.
func openOutput(ctx context.Context, cfg *config.Config, target string) (io.WriteCloser, error) {
	var (
		fs   storage.FileStore
		name string
		err  error
	)
	if strings.Contains(target, "://") {
		var root string
		root, name = splitLocation(target)
		fs, err = storage.Open(ctx, root, cfg.S3)
	} else {
		name = filepath.Base(target)
		fs, err = storage.NewLocal(filepath.Dir(target))
	}
	if err != nil {
		return nil, err
	}
	return fs.Write(ctx, name)
}

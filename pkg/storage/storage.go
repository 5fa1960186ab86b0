// Package storage locates files outside the process: the language resource
// packs the engine loads and the audio files synthesis writes. A FileStore
// is either a local directory or an S3 bucket prefix; Open picks one from a
// URL.
//
// The native engine only reads resources from the filesystem, so Fetch
// materializes a stored file as a local path first.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file. Missing files give an error wrapping
	// os.ErrNotExist. The caller closes the reader.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write creates or truncates the named file. Data is only guaranteed to
	// be stored once Close returns nil.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Delete removes the named file. Missing files are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Aborter is implemented by the writers of stores that can discard a write
// in progress. After Abort the destination is left as it was and Close is a
// no-op.
type Aborter interface {
	Abort() error
}

// Locator is implemented by stores whose files have a name that is unique
// across stores, such as an s3:// URL.
type Locator interface {
	URL(path string) string
}

// Open returns the store a location string names:
//
//	s3://bucket/prefix   an S3Store configured from cfg
//	file:///abs/dir      a Local store
//	any/other/path       a Local store
func Open(ctx context.Context, location string, cfg S3Config) (FileStore, error) {
	if !strings.Contains(location, "://") {
		return NewLocal(location)
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("storage: parse %q: %w", location, err)
	}
	switch u.Scheme {
	case "file":
		return NewLocal(u.Path)
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("storage: %q has no bucket", location)
		}
		client := NewS3Client(cfg)
		return NewS3(client, u.Host, strings.Trim(u.Path, "/")), nil
	}
	return nil, fmt.Errorf("storage: unsupported scheme %q", u.Scheme)
}

// Fetch returns a local filesystem path holding the stored file name. Files
// in a Local store are used in place; anything else is copied into a
// subdirectory of dir derived from the file's location, keeping its base
// name. Files with the same base name in different buckets or prefixes get
// different local copies.
func Fetch(ctx context.Context, fs FileStore, name, dir string) (string, error) {
	if l, ok := fs.(*Local); ok {
		p := l.resolve(name)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("storage: fetch %s: %w", name, err)
		}
		return p, nil
	}

	r, err := fs.Read(ctx, name)
	if err != nil {
		return "", err
	}
	defer r.Close()

	dir = filepath.Join(dir, fetchKey(fs, name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, path.Base(name))
	f, err := os.CreateTemp(dir, path.Base(name)+".*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("storage: fetch %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Rename(f.Name(), dst); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return dst, nil
}

// fetchKey names the cache subdirectory for a fetched file.
func fetchKey(fs FileStore, name string) string {
	id := name
	if l, ok := fs.(Locator); ok {
		id = l.URL(name)
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// WriteFile stores data under name.
func WriteFile(ctx context.Context, fs FileStore, name string, data []byte) error {
	w, err := fs.Write(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return w.Close()
}

// Package archive keeps the original uploaded documents next to the
// reports extracted from them.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("archive: object not found")

// Archive stores documents by key. Keys use forward slashes.
type Archive interface {
	// Put stores r under key and returns a location string for logs and
	// provenance.
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Drivers.
const (
	DriverFS   = "fs"
	DriverS3   = "s3"
	DriverNone = "none"
)

// Config selects and configures an Archive.
type Config struct {
	Driver string
	// Root is the fs driver's base directory.
	Root string

	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	PathStyle bool
}

// Open constructs the Archive named by cfg.Driver. Empty means none.
func Open(ctx context.Context, cfg Config) (Archive, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return None{}, nil
	case DriverFS:
		return NewFS(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg)
	}
	return nil, fmt.Errorf("archive: unknown driver %q (available: fs, none, s3)", cfg.Driver)
}

// cleanKey normalizes key and rejects keys escaping the archive root.
func cleanKey(key string) (string, error) {
	slashed := strings.ReplaceAll(key, `\`, "/")
	k := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("archive: empty key %q", key)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", fmt.Errorf("archive: key %q escapes the archive", key)
		}
	}
	return k, nil
}

// None discards documents.
type None struct{}

func (None) Put(ctx context.Context, key string, r io.Reader) (string, error) { return "", nil }

func (None) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (None) Delete(ctx context.Context, key string) error { return nil }

// FS stores documents below a root directory.
type FS struct {
	root string
}

// NewFS creates root if needed.
func NewFS(root string) (*FS, error) {
	if root == "" {
		root = "./data/archive"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("archive: create root: %w", err)
	}
	return &FS{root: root}, nil
}

func (a *FS) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.root, filepath.FromSlash(k)), nil
}

func (a *FS) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	p, err := a.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return "", fmt.Errorf("archive: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}
	return p, nil
}

func (a *FS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := a.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", key, err)
	}
	return f, nil
}

func (a *FS) Delete(ctx context.Context, key string) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("archive: delete %s: %w", key, err)
	}
	return nil
}

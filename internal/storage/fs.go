package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/starford/vidnotes/internal/checksum"
)

// FileName is the document the file backend keeps under its root.
const FileName = "vidnotes.json"

// FS implements Provider as a single JSON document on disk. Every Set
// rewrites the whole document with tmp file → fsync → rename, so readers
// never observe a partial write.
type FS struct {
	root string // absolute path to data directory

	mu    sync.Mutex
	known checksum.Set // digests of the values last seen on disk
}

// NewFS creates a file provider rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, known: checksum.Set{}}
	if doc, err := f.load(); err == nil {
		f.known = checksum.Of(doc)
	}
	return f, nil
}

// Root returns the absolute data directory.
func (f *FS) Root() string { return f.root }

// Path returns the absolute path of the document.
func (f *FS) Path() string { return filepath.Join(f.root, FileName) }

func (f *FS) load() (Record, error) {
	data, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read: %w", err)
	}
	doc := Record{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", FileName, err)
	}
	return doc, nil
}

func (f *FS) Get(_ context.Context, keys []string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	return pick(doc, keys), nil
}

func (f *FS) Set(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range rec {
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storage: encode: %w", err)
	}
	if err := writeAtomic(f.Path(), data); err != nil {
		return err
	}
	written := Record{}
	if err := json.Unmarshal(data, &written); err == nil {
		f.known = checksum.Of(written)
	}
	return nil
}

func (f *FS) Close() error { return nil }

// changedKeys re-reads the document and returns the keys whose value differs
// from what this process last saw, then remembers the new state.
func (f *FS) changedKeys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	next := checksum.Of(doc)
	keys := f.known.Diff(next)
	f.known = next
	return keys, nil
}

// writeAtomic writes content: tmp file → fsync → rename.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vidnotes-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

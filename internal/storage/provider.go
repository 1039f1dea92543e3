// Package storage defines the key-value backends behind the sync bridge.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Record is a set of top-level keys and their JSON values.
type Record map[string]json.RawMessage

// Provider is the interface for record storage.
type Provider interface {
	// Get returns the stored values for keys. Missing keys are absent from the result.
	Get(ctx context.Context, keys []string) (Record, error)
	// Set replaces every key in rec in one atomic step.
	Set(ctx context.Context, rec Record) error
	// Close releases the backend.
	Close() error
}

// New opens the named backend. path is ignored for the memory backend.
func New(backend, path string) (Provider, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendFile:
		return NewFS(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func pick(all Record, keys []string) Record {
	out := make(Record, len(keys))
	for _, k := range keys {
		if v, ok := all[k]; ok {
			out[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

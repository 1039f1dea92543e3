package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process Provider. Set can be made to fail for tests.
type Memory struct {
	mu      sync.RWMutex
	data    Record
	failSet error
	failGet error
}

// NewMemory returns an empty Memory provider.
func NewMemory() *Memory {
	return &Memory{data: make(Record)}
}

// FailWith makes subsequent Get and Set calls return the given errors.
func (m *Memory) FailWith(getErr, setErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet, m.failSet = getErr, setErr
}

func (m *Memory) Get(_ context.Context, keys []string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	return pick(m.data, keys), nil
}

func (m *Memory) Set(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	for k, v := range rec {
		m.data[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Package testutil provides shared test helpers for wiring a service over a
// throwaway store.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/vidnotes/internal/noteservice"
	"github.com/starford/vidnotes/internal/notestore"
	"github.com/starford/vidnotes/internal/sse"
	"github.com/starford/vidnotes/internal/storage"
	"github.com/starford/vidnotes/internal/syncbridge"
)

// Clock is a manually advanced clock.
type Clock struct {
	ms atomic.Int64
}

// NewClock starts a clock at the given epoch milliseconds.
func NewClock(startMs int64) *Clock {
	c := &Clock{}
	c.ms.Store(startMs)
	return c
}

// Now returns the current time and advances the clock by one millisecond,
// so consecutive writes get distinct watermarks.
func (c *Clock) Now() time.Time {
	return time.UnixMilli(c.ms.Add(1) - 1)
}

// noteSeq is shared so ids stay unique across envs in one test binary.
var noteSeq atomic.Int64

// Env is a service wired over an in-memory store.
type Env struct {
	Store   *storage.Memory
	Broker  *sse.Broker
	Bridge  *syncbridge.Bridge
	Service *noteservice.Service
	Clock   *Clock
}

// NewEnv builds a service over a fresh memory store with sequential note ids.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	mem := storage.NewMemory()
	return newEnv(t, mem, mem)
}

// NewFileEnv builds a service over a file store in a temporary directory.
func NewFileEnv(t *testing.T) (*Env, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewEnvWith(t, fs), fs
}

// NewEnvWith builds a service over an existing provider.
func NewEnvWith(t *testing.T, provider storage.Provider) *Env {
	t.Helper()
	mem, _ := provider.(*storage.Memory)
	return newEnv(t, provider, mem)
}

func newEnv(t *testing.T, provider storage.Provider, mem *storage.Memory) *Env {
	broker := sse.NewBroker(10 * time.Millisecond)
	t.Cleanup(broker.Close)

	clock := NewClock(1_700_000_000_000)
	store := &notestore.Store{
		Clock: clock.Now,
		NewID: func() string { return fmt.Sprintf("note-%d", noteSeq.Add(1)) },
	}
	bridge := syncbridge.New(provider, broker, nil)
	return &Env{
		Store:   mem,
		Broker:  broker,
		Bridge:  bridge,
		Service: noteservice.NewService(bridge, store, nil),
		Clock:   clock,
	}
}

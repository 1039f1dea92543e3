// Package syncbridge is the key-value boundary the note service commits
// through. Reads never fail, writes fail with apperr.ErrOperationFailed and
// every committed write is announced to change listeners.
package syncbridge

import (
	"context"
	"log/slog"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/sse"
	"github.com/starford/vidnotes/internal/storage"
)

// Bridge wraps a storage provider and the event broker.
type Bridge struct {
	store  storage.Provider
	broker *sse.Broker
	logger *slog.Logger
}

// New creates a bridge. A nil logger uses slog.Default.
func New(store storage.Provider, broker *sse.Broker, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{store: store, broker: broker, logger: logger}
}

// Read returns the stored values for keys, or an empty record when the
// backend is unavailable.
func (b *Bridge) Read(ctx context.Context, keys ...string) storage.Record {
	rec, err := b.store.Get(ctx, keys)
	if err != nil {
		b.logger.Warn("storage read failed, using empty snapshot",
			slog.Any("keys", keys), slog.String("error", err.Error()))
		return storage.Record{}
	}
	if rec == nil {
		return storage.Record{}
	}
	return rec
}

// Write commits every key of rec in one step and notifies listeners.
func (b *Bridge) Write(ctx context.Context, rec storage.Record) error {
	if err := b.store.Set(ctx, rec); err != nil {
		return apperr.OperationFailed("storage write", err)
	}
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	b.Notify(keys)
	return nil
}

// Notify announces keys changed by a writer outside this bridge, such as
// another process sharing the file backend.
func (b *Bridge) Notify(keys []string) {
	if b.broker == nil || len(keys) == 0 {
		return
	}
	b.broker.PublishChange(keys)
}

// OnChange calls listener with the changed keys after every commit by any
// writer. The returned function stops delivery.
func (b *Bridge) OnChange(listener func(keys []string)) (cancel func()) {
	if b.broker == nil {
		return func() {}
	}
	events, stop := b.broker.Listen()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type != sse.EventStorageChanged {
				continue
			}
			if data, ok := ev.Data.(sse.ChangeData); ok {
				listener(data.Keys)
			}
		}
	}()
	return func() {
		stop()
		<-done
	}
}

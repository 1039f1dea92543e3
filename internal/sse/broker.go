// Package sse fans storage change events out to Server-Sent Events clients
// and in-process listeners.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventStorageChanged       = "storage.changed"
	EventProjectionInvalidate = "projection.invalidated"
)

// Event represents an event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ChangeData is the payload of a storage.changed event.
type ChangeData struct {
	Keys []string `json:"keys"`
}

// Broker manages SSE client connections and in-process listeners.
//
// A single internal goroutine owns the client and listener sets and the
// projection throttle timestamp; public methods talk to it over channels.
type Broker struct {
	projectionMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	listenCh      chan *listener
	unlistenCh    chan chan Event
	publishCh     chan Event
	changeCh      chan []string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits projection.invalidated at most once per throttle.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 500 * time.Millisecond
	}

	b := &Broker{
		projectionMin: throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		listenCh:      make(chan *listener),
		unlistenCh:    make(chan chan Event),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan []string, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	listeners := make(map[chan Event]*listener)
	var lastProjection time.Time

	broadcast := func(event Event) {
		for _, l := range listeners {
			l.push(event)
		}

		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))
		for ch := range clients {
			select {
			case ch <- raw:
			default:
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			for _, l := range listeners {
				close(l.quit)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case l := <-b.listenCh:
			listeners[l.out] = l
			go l.forward()

		case ch := <-b.unlistenCh:
			if l, ok := listeners[ch]; ok {
				delete(listeners, ch)
				close(l.quit)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case keys := <-b.changeCh:
			broadcast(Event{Type: EventStorageChanged, Data: ChangeData{Keys: keys}})

			now := time.Now()
			if now.Sub(lastProjection) >= b.projectionMin {
				lastProjection = now
				broadcast(Event{Type: EventProjectionInvalidate, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients) + len(listeners)
		}
	}
}

// Close gracefully stops the broker loop and closes all channels it handed out.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new SSE client and returns its channel of encoded frames.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// Listen registers an in-process listener. The returned cancel function
// removes it and closes the channel.
//
// Events a slow listener has not yet received are coalesced: pending
// storage.changed events collapse into one carrying the union of their keys,
// so the latest commit is always delivered.
func (b *Broker) Listen() (<-chan Event, func()) {
	l := newListener()
	ch := l.out
	if b.closed.Load() {
		close(ch)
		return ch, func() {}
	}
	select {
	case b.listenCh <- l:
	case <-b.stopped:
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		if b.closed.Load() {
			return
		}
		select {
		case b.unlistenCh <- ch:
		case <-b.stopped:
		}
	}
}

// maxPendingOther bounds the queued events other than storage changes and
// projection invalidations held for a slow listener.
const maxPendingOther = 64

// listener buffers events for one in-process consumer. The broker loop pushes
// without blocking; forward delivers on the listener's own goroutine.
type listener struct {
	out  chan Event
	wake chan struct{}
	quit chan struct{}

	mu         sync.Mutex
	keys       map[string]struct{}
	projection bool
	other      []Event
}

func newListener() *listener {
	return &listener{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		keys: make(map[string]struct{}),
	}
}

func (l *listener) push(event Event) {
	l.mu.Lock()
	switch event.Type {
	case EventStorageChanged:
		if data, ok := event.Data.(ChangeData); ok {
			for _, k := range data.Keys {
				l.keys[k] = struct{}{}
			}
		}
	case EventProjectionInvalidate:
		l.projection = true
	default:
		if len(l.other) == maxPendingOther {
			l.other = l.other[1:]
		}
		l.other = append(l.other, event)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// take drains everything pending, storage changes first.
func (l *listener) take() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []Event
	if len(l.keys) > 0 {
		keys := make([]string, 0, len(l.keys))
		for k := range l.keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		events = append(events, Event{Type: EventStorageChanged, Data: ChangeData{Keys: keys}})
		l.keys = make(map[string]struct{})
	}
	if l.projection {
		events = append(events, Event{Type: EventProjectionInvalidate, Data: map[string]string{}})
		l.projection = false
	}
	events = append(events, l.other...)
	l.other = nil
	return events
}

func (l *listener) forward() {
	defer close(l.out)
	for {
		select {
		case <-l.quit:
			return
		case <-l.wake:
		}
		for _, ev := range l.take() {
			select {
			case l.out <- ev:
			case <-l.quit:
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients and listeners.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to everyone connected.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange announces that keys were committed, followed by a throttled
// projection.invalidated.
func (b *Broker) PublishChange(keys []string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- append([]string(nil), keys...):
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// syncRecorder guards the recorder body, which the handler writes from another goroutine.
type syncRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishChange_Delivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange([]string{"videoNotes:notes"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: storage.changed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"keys":["videoNotes:notes"]`) {
			t.Errorf("missing keys in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestListen_ReceivesEvents(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	events, cancel := b.Listen()
	defer cancel()

	b.PublishChange([]string{"k"})

	select {
	case ev := <-events:
		if ev.Type != EventStorageChanged {
			t.Fatalf("type = %q", ev.Type)
		}
		data, ok := ev.Data.(ChangeData)
		if !ok || len(data.Keys) != 1 || data.Keys[0] != "k" {
			t.Errorf("data = %#v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	cancel()
	if b.ClientCount() != 0 {
		t.Errorf("listener not removed")
	}
}

func TestPublishChange_ProjectionThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange([]string{"a"})
	b.PublishChange([]string{"b"})

	time.Sleep(50 * time.Millisecond)
	projection, changes := 0, 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), EventProjectionInvalidate) {
				projection++
			} else {
				changes++
			}
		default:
			break loop
		}
	}

	if changes != 2 {
		t.Errorf("change events = %d, want 2", changes)
	}
	if projection != 1 {
		t.Errorf("projection events = %d, want 1 (throttled)", projection)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishChange([]string{"videoNotes:metadata"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if !strings.Contains(w.body(), "event: storage.changed") {
		t.Errorf("handler output missing event: %q", w.body())
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestCloseClosesSubscribersAndListeners(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	events, _ := b.Listen()

	b.Close()

	for _, closed := range []func() bool{
		func() bool { _, ok := <-ch; return !ok },
		func() bool { _, ok := <-events; return !ok },
	} {
		if !closed() {
			t.Fatal("expected channel to be closed")
		}
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "x"})
	b.PublishChange([]string{"x"})
}

func TestListen_CoalescesWhileBehind(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	events, cancel := b.Listen()
	defer cancel()

	for i := 0; i < 200; i++ {
		b.PublishChange([]string{"a"})
	}
	b.PublishChange([]string{"b"})

	keys := map[string]bool{}
	deadline := time.After(time.Second)
	for !keys["b"] {
		select {
		case ev := <-events:
			if data, ok := ev.Data.(ChangeData); ok {
				for _, k := range data.Keys {
					keys[k] = true
				}
			}
		case <-deadline:
			t.Fatalf("final change not delivered, saw %v", keys)
		}
	}
	if !keys["a"] {
		t.Errorf("earlier keys lost: %v", keys)
	}
}

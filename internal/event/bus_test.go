package event

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testBus(t *testing.T, bufSize int) *Bus {
	t.Helper()
	b := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), bufSize)
	go b.Start()
	t.Cleanup(b.Stop)
	return b
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSubscribeReceivesMatchingType(t *testing.T) {
	b := testBus(t, 16)

	var mu sync.Mutex
	var got []Event
	b.Subscribe(MediaItemAdded, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	b.Publish(Event{Type: MediaItemAdded, URI: "library://artist/a"})
	b.Publish(Event{Type: MediaItemDeleted, URI: "library://artist/b"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, "subscriber never received the event")

	mu.Lock()
	defer mu.Unlock()
	if got[0].URI != "library://artist/a" {
		t.Errorf("uri = %q, want library://artist/a", got[0].URI)
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped on publish")
	}
}

func TestSubscribeAllReceivesEveryType(t *testing.T) {
	b := testBus(t, 16)

	var mu sync.Mutex
	var n int
	b.SubscribeAll(func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	b.Publish(Event{Type: MediaItemAdded})
	b.Publish(Event{Type: SyncStarted})
	b.Publish(Event{Type: SyncCompleted})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 3
	}, "catch-all subscriber missed events")
}

func TestPublishDropsWhenFull(t *testing.T) {
	// No Start call, so the buffer never drains. Publishing past the
	// buffer must not block.
	b := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: MediaItemAdded})
		b.Publish(Event{Type: MediaItemAdded})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}
}

func TestPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	b := testBus(t, 16)

	b.Subscribe(MediaItemAdded, func(Event) { panic("boom") })

	var mu sync.Mutex
	var n int
	b.Subscribe(MediaItemAdded, func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})

	b.Publish(Event{Type: MediaItemAdded})
	b.Publish(Event{Type: MediaItemAdded})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return n == 2
	}, "dispatch stopped after a handler panicked")
}

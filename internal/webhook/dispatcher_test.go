package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harmonia-music/harmonia/internal/config"
	"github.com/harmonia-music/harmonia/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverPostsJSONPayload(t *testing.T) {
	var mu sync.Mutex
	var received map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&received) //nolint:errcheck
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcherWithHTTPClient([]config.WebhookConfig{
		{Name: "test", URL: srv.URL, Events: []string{"media_item.added"}},
	}, srv.Client(), testLogger())

	d.HandleEvent(event.Event{
		Type:      event.MediaItemAdded,
		URI:       "library://artist/abc",
		Timestamp: time.Now().UTC(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := received != nil
		mu.Unlock()
		if ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil {
		t.Fatal("endpoint never received the payload")
	}
	if received["event"] != "media_item.added" {
		t.Errorf("event = %v, want media_item.added", received["event"])
	}
	if received["uri"] != "library://artist/abc" {
		t.Errorf("uri = %v", received["uri"])
	}
}

func TestEventFilterSkipsUnsubscribedTypes(t *testing.T) {
	var calls int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcherWithHTTPClient([]config.WebhookConfig{
		{Name: "deletes-only", URL: srv.URL, Events: []string{"media_item.deleted"}},
	}, srv.Client(), testLogger())

	d.HandleEvent(event.Event{Type: event.MediaItemAdded, Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("endpoint called %d times for an unsubscribed event", calls)
	}
}

func TestWants(t *testing.T) {
	all := config.WebhookConfig{Name: "all"}
	if !wants(all, event.SyncCompleted) {
		t.Error("empty event list should match every type")
	}

	scoped := config.WebhookConfig{Name: "scoped", Events: []string{"sync.completed"}}
	if !wants(scoped, event.SyncCompleted) {
		t.Error("listed type not matched")
	}
	if wants(scoped, event.MediaItemAdded) {
		t.Error("unlisted type matched")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var mu sync.Mutex
	var attempts int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcherWithHTTPClient([]config.WebhookConfig{
		{Name: "flaky", URL: srv.URL},
	}, srv.Client(), testLogger())

	d.deliver(d.hooks[0], event.Event{Type: event.SyncCompleted, Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one failure, one success)", attempts)
	}
}

package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/wire"
)

type watchRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *watchRecorder) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *watchRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *watchRecorder) OnOpen() { r.record("did_open") }
func (r *watchRecorder) OnClose(err *resilience.Error) { r.record("did_close") }
func (r *watchRecorder) OnChange(change wire.WatchChange, v time.Time) { r.record("did_change") }

func newTestWatchStream() (*WatchStream, *queue.Queue, *fakeTransport) {
	q := queue.New()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	headers := map[string]string{"x-goog-api-client": "gl-objc/ fire/1 grpc/"}
	ws := NewWatchStream(q, transport, tp, headers, serializer.JSON{}, backoff.DefaultConfig())
	return ws, q, transport
}

// onQueue runs fn as a task on q and blocks until it returns.
func onQueue(q *queue.Queue, fn func()) {
	done := make(chan struct{})
	q.DispatchAsync(func() {
		fn()
		close(done)
	})
	<-done
}

func TestWatchStopBeforeHandshake(t *testing.T) {
	ws, q, transport := newTestWatchStream()
	defer q.Stop()
	rec := &watchRecorder{}

	ws.Start(rec)
	if !eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second) {
		t.Fatalf("expected on_open, got %v", rec.snapshot())
	}

	ws.Stop()
	transport.last().closeWithError(nil)

	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != "did_open" {
		t.Fatalf("expected exactly [did_open], got %v", got)
	}
}

func TestWatchReceivesChange(t *testing.T) {
	ws, q, transport := newTestWatchStream()
	defer q.Stop()
	rec := &watchRecorder{}

	ws.Start(rec)
	if !eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second) {
		t.Fatal("expected on_open")
	}

	var watchErr error
	onQueue(q, func() {
		watchErr = ws.Watch(wire.Target{TargetID: 1, Query: []byte(`{"q":1}`)})
	})
	if watchErr != nil {
		t.Fatalf("Watch: %v", watchErr)
	}

	listenFrame := []byte(`{"targetChange":{"targetChangeType":"CURRENT","targetIds":[1]},"readTime":"2026-01-01T00:00:00Z"}`)
	transport.last().deliver(listenFrame)

	if !eventually(func() bool { return len(rec.snapshot()) == 2 }, time.Second) {
		t.Fatalf("expected did_change, got %v", rec.snapshot())
	}
	if got := rec.snapshot(); got[1] != "did_change" {
		t.Fatalf("expected did_change, got %v", got)
	}
}

func TestWatchRequiresOpenToSend(t *testing.T) {
	ws, q, _ := newTestWatchStream()
	defer q.Stop()

	panicked := make(chan any, 1)
	q.DispatchAsync(func() {
		defer func() { panicked <- recover() }()
		_ = ws.Watch(wire.Target{TargetID: 1})
	})

	select {
	case r := <-panicked:
		if r == nil {
			t.Fatal("expected panic writing before stream is open")
		}
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/wire"
)

// baseRecorder is a minimal Delegate used where the test only cares about
// open/close, not protocol-specific callbacks.
type baseRecorder struct {
	mu      sync.Mutex
	opens   int
	closes  int
	lastErr *resilience.Error
}

func (r *baseRecorder) OnOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
}

func (r *baseRecorder) OnClose(err *resilience.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	r.lastErr = err
}

func (r *baseRecorder) OnChange(change wire.WatchChange, version time.Time) {}

func (r *baseRecorder) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens, r.closes
}

// TestErrorRetriesThroughBackoff verifies that a stream closed by a
// transport error can be restarted, and that the restart goes through
// the backoff state before reopening. The backoff controller's very first
// RunAfterDelay call fires with zero delay, so the first retry passes
// through Backoff too briefly to observe; the check is made on the retry
// after a second failure, which waits out a non-zero delay.
func TestErrorRetriesThroughBackoff(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	ws := NewWatchStream(q, transport, tp, nil, serializer.JSON{}, backoff.DefaultConfig())

	rec := &baseRecorder{}
	ws.Start(rec)
	if !eventually(func() bool { o, _ := rec.snapshot(); return o == 1 }, time.Second) {
		t.Fatal("expected first on_open")
	}

	transport.last().closeWithError(errors.New("transport reset"))
	if !eventually(func() bool { _, c := rec.snapshot(); return c == 1 }, time.Second) {
		t.Fatal("expected on_close after transport error")
	}
	if ws.State() != Error {
		t.Fatalf("expected state Error, got %v", ws.State())
	}

	ws.Start(rec)
	if !eventually(func() bool { o, _ := rec.snapshot(); return o == 2 }, time.Second) {
		t.Fatal("expected the zero-delay first retry to reopen")
	}
	transport.last().closeWithError(errors.New("transport reset again"))
	if !eventually(func() bool { _, c := rec.snapshot(); return c == 2 }, time.Second) {
		t.Fatal("expected on_close after second transport error")
	}

	ws.Start(rec)
	if !eventually(func() bool { return ws.State() == Backoff }, time.Second) {
		t.Fatalf("expected state Backoff while retry is pending, got %v", ws.State())
	}
}

// TestStopDuringBackoffCancelsPendingRetry covers stopping a stream
// while a backed-off retry is still pending.
func TestStopDuringBackoffCancelsPendingRetry(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	ws := NewWatchStream(q, transport, tp, nil, serializer.JSON{}, backoff.DefaultConfig())

	rec := &baseRecorder{}
	ws.Start(rec)
	eventually(func() bool { o, _ := rec.snapshot(); return o == 1 }, time.Second)

	// The backoff controller's very first RunAfterDelay call fires with
	// zero delay, so the first retry reopens almost at once. A second
	// failure is needed to get a non-trivial pending delay to cancel.
	transport.last().closeWithError(errors.New("boom"))
	eventually(func() bool { _, c := rec.snapshot(); return c == 1 }, time.Second)
	ws.Start(rec)
	eventually(func() bool { o, _ := rec.snapshot(); return o == 2 }, time.Second)

	transport.last().closeWithError(errors.New("boom again"))
	eventually(func() bool { _, c := rec.snapshot(); return c == 2 }, time.Second)

	ws.Start(rec) // Error -> Backoff, now with a non-zero pending delay
	if !eventually(func() bool { return ws.State() == Backoff }, time.Second) {
		t.Fatalf("expected state Backoff, got %v", ws.State())
	}

	ws.Stop()
	if !eventually(func() bool { return ws.State() == Stopped }, time.Second) {
		t.Fatal("expected Stopped")
	}

	rpcsBeforeWait := transport.count()
	time.Sleep(50 * time.Millisecond)
	if transport.count() != rpcsBeforeWait {
		t.Fatalf("expected the cancelled retry to never create another rpc, got %d (had %d)", transport.count(), rpcsBeforeWait)
	}
}

// TestNoCallbacksAfterStop: once Stop has run on the worker queue, the
// delegate receives no further callbacks even if the transport delivers
// more events afterward.
func TestNoCallbacksAfterStop(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	ws := NewWatchStream(q, transport, tp, nil, serializer.JSON{}, backoff.DefaultConfig())

	rec := &watchRecorder{}
	ws.Start(rec)
	eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second)

	ws.Stop()
	eventually(func() bool { return ws.State() == Stopped }, time.Second)

	rpc := transport.last()
	rpc.deliver([]byte(`{"targetChange":{"targetChangeType":"CURRENT"}}`))
	rpc.closeWithError(errors.New("late event"))
	time.Sleep(30 * time.Millisecond)

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("expected no callbacks after stop, got %v", got)
	}
}

// TestParseFailureClosesWithInternal: malformed frames close the stream
// with an Internal error rather than being silently dropped or crashing
// the worker queue.
func TestParseFailureClosesWithInternal(t *testing.T) {
	q := queue.New()
	defer q.Stop()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	ws := NewWatchStream(q, transport, tp, nil, serializer.JSON{}, backoff.DefaultConfig())

	rec := &baseRecorder{}
	ws.Start(rec)
	eventually(func() bool { o, _ := rec.snapshot(); return o == 1 }, time.Second)

	transport.last().deliver([]byte(`{"somethingUnrecognized":true}`))

	if !eventually(func() bool { _, c := rec.snapshot(); return c == 1 }, time.Second) {
		t.Fatal("expected on_close after parse failure")
	}
	rec.mu.Lock()
	lastErr := rec.lastErr
	rec.mu.Unlock()
	if lastErr == nil || lastErr.Code != codes.Internal {
		t.Fatalf("expected on_close with an Internal error, got %v", lastErr)
	}
}

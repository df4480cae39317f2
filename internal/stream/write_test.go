package stream

import (
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

type writeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *writeRecorder) record(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *writeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *writeRecorder) OnOpen() { r.record("did_open") }
func (r *writeRecorder) OnClose(err *resilience.Error) { r.record("did_close") }
func (r *writeRecorder) OnHandshakeComplete() { r.record("did_complete_handshake") }
func (r *writeRecorder) OnResponse(resp wire.WriteResponse) { r.record("did_receive_response") }

func newTestWriteStream() (*WriteStream, *queue.Queue, *fakeTransport) {
	q := queue.New()
	transport := &fakeTransport{}
	tp := &fakeTokenProvider{token: "tok"}
	headers := map[string]string{"x-goog-api-client": "gl-objc/ fire/1 grpc/"}
	wst := NewWriteStream(q, transport, tp, headers, serializer.JSON{}, "projects/p/databases/(default)", backoff.DefaultConfig())
	return wst, q, transport
}

// scenario 2: write stop before handshake.
func TestWriteStopBeforeHandshake(t *testing.T) {
	wst, q, transport := newTestWriteStream()
	defer q.Stop()
	rec := &writeRecorder{}

	wst.Start(rec)
	if !eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second) {
		t.Fatalf("expected on_open, got %v", rec.snapshot())
	}

	wst.Stop()
	transport.last().closeWithError(nil)

	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != "did_open" {
		t.Fatalf("expected exactly [did_open], got %v", got)
	}
}

// scenario 3: write stop after handshake. Mutations before handshake
// raise, handshake then mutations then stop produce the expected trace.
func TestWriteHandshakeThenMutationsThenStop(t *testing.T) {
	wst, q, transport := newTestWriteStream()
	defer q.Stop()
	rec := &writeRecorder{}

	wst.Start(rec)
	if !eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second) {
		t.Fatal("expected on_open")
	}

	panicked := make(chan any, 1)
	q.DispatchAsync(func() {
		defer func() { panicked <- recover() }()
		_ = wst.WriteMutations([]wire.Mutation{{Kind: "set", DocumentPath: "a/b"}})
	})
	if r := <-panicked; r == nil {
		t.Fatal("expected write_mutations before handshake to panic")
	}

	onQueue(q, func() {
		if err := wst.WriteHandshake(); err != nil {
			t.Fatalf("WriteHandshake: %v", err)
		}
	})
	handshakeFrame := []byte(`{"streamToken":"dG9rZW4x"}`)
	transport.last().deliver(handshakeFrame)

	if !eventually(func() bool { return len(rec.snapshot()) == 2 }, time.Second) {
		t.Fatalf("expected did_complete_handshake, got %v", rec.snapshot())
	}

	onQueue(q, func() {
		if err := wst.WriteMutations([]wire.Mutation{{Kind: "set", DocumentPath: "a/b"}}); err != nil {
			t.Fatalf("WriteMutations: %v", err)
		}
	})
	responseFrame := []byte(`{"streamToken":"dG9rZW4y","commitTime":"2026-01-01T00:00:00Z","writeResults":[{"updateTime":"2026-01-01T00:00:00Z"}]}`)
	transport.last().deliver(responseFrame)

	if !eventually(func() bool { return len(rec.snapshot()) == 3 }, time.Second) {
		t.Fatalf("expected did_receive_response, got %v", rec.snapshot())
	}

	wst.Stop()
	time.Sleep(20 * time.Millisecond)

	got := rec.snapshot()
	want := []string{"did_open", "did_complete_handshake", "did_receive_response"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// scenario 4: idle-closed stream lands on Initial with no error.
func TestIdleCloseReturnsToInitial(t *testing.T) {
	wst, q, transport := newTestWriteStream()
	defer q.Stop()
	rec := &writeRecorder{}
	wst.SetIdleTimeoutForTesting(20 * time.Millisecond)

	wst.Start(rec)
	eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second)

	onQueue(q, func() {
		if err := wst.WriteHandshake(); err != nil {
			t.Fatalf("WriteHandshake: %v", err)
		}
	})
	transport.last().deliver([]byte(`{"streamToken":"dG9r"}`))
	eventually(func() bool { return len(rec.snapshot()) == 2 }, time.Second)

	wst.MarkIdle()

	if !eventually(func() bool { return len(rec.snapshot()) == 3 }, time.Second) {
		t.Fatalf("expected idle close, got %v", rec.snapshot())
	}
	got := rec.snapshot()
	if got[2] != "did_close" {
		t.Fatalf("expected did_close, got %v", got)
	}
	if wst.State() != Initial {
		t.Fatalf("expected final state Initial after idle close, got %v", wst.State())
	}
	if !eventually(func() bool { return wst.IsOpen() == false }, time.Second) {
		t.Fatal("expected is_open false after idle close")
	}
}

// scenario 5: a write before the idle timer fires cancels it.
func TestIdleCancelledByWrite(t *testing.T) {
	wst, q, transport := newTestWriteStream()
	defer q.Stop()
	rec := &writeRecorder{}
	wst.SetIdleTimeoutForTesting(30 * time.Millisecond)

	wst.Start(rec)
	eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second)

	onQueue(q, func() {
		if err := wst.WriteHandshake(); err != nil {
			t.Fatalf("WriteHandshake: %v", err)
		}
	})
	transport.last().deliver([]byte(`{"streamToken":"dG9r"}`))
	eventually(func() bool { return len(rec.snapshot()) == 2 }, time.Second)

	wst.MarkIdle()
	onQueue(q, func() {
		if err := wst.WriteMutations([]wire.Mutation{{Kind: "set", DocumentPath: "a/b"}}); err != nil {
			t.Fatalf("WriteMutations: %v", err)
		}
	})

	time.Sleep(60 * time.Millisecond) // well past the (cancelled) idle deadline
	transport.last().deliver([]byte(`{"streamToken":"dG9r","commitTime":"2026-01-01T00:00:00Z","writeResults":[{}]}`))

	if !eventually(func() bool { return len(rec.snapshot()) == 3 }, time.Second) {
		t.Fatalf("expected did_receive_response with no idle close, got %v", rec.snapshot())
	}
	if !wst.IsOpen() {
		t.Fatal("expected stream to remain open")
	}
}

// scenario 6: a ResourceExhausted transport error saturates backoff.
func TestResourceExhaustedSaturatesBackoff(t *testing.T) {
	wst, q, transport := newTestWriteStream()
	defer q.Stop()
	rec := &writeRecorder{}

	wst.Start(rec)
	eventually(func() bool { return len(rec.snapshot()) == 1 }, time.Second)

	transport.last().closeWithError(resilience.New(codes.ResourceExhausted, nil))

	if !eventually(func() bool { return len(rec.snapshot()) == 2 }, time.Second) {
		t.Fatalf("expected did_close, got %v", rec.snapshot())
	}
	if got := wst.Base.backoff.CurrentDelay(); got != backoff.DefaultConfig().MaxDelay {
		t.Fatalf("expected backoff saturated to max, got %v", got)
	}
}

package stream

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/serializer"
)

// TestPropertyRandomInterleavings generates random sequences of start,
// stop, transport frames and transport errors against a single watch
// stream and checks after every step that IsStarted matches the state,
// that no callback ever arrives after stop, and that OnOpen never fires
// twice without an intervening OnClose.
func TestPropertyRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 20; trial++ {
		q := queue.New()
		transport := &fakeTransport{}
		tp := &fakeTokenProvider{token: "tok", async: rng.Intn(2) == 0}
		ws := NewWatchStream(q, transport, tp, nil, serializer.JSON{}, backoff.DefaultConfig())
		ws.SetIdleTimeoutForTesting(5 * time.Millisecond)

		rec := &watchRecorder{}
		stopped := false
		opensSinceClose := 0

		steps := 30
		for i := 0; i < steps; i++ {
			switch rng.Intn(5) {
			case 0:
				ws.Start(rec)
			case 1:
				ws.Stop()
				stopped = true
			case 2:
				if rpc := lastOrNil(transport); rpc != nil {
					rpc.deliver([]byte(`{"targetChange":{"targetChangeType":"NO_CHANGE"}}`))
				}
			case 3:
				if rpc := lastOrNil(transport); rpc != nil {
					rpc.closeWithError(errors.New("injected"))
				}
			case 4:
				if eventually(func() bool { return ws.State() != Auth }, 30*time.Millisecond) {
					// state settled enough to read without mid-transition noise
				}
			}
			time.Sleep(2 * time.Millisecond)

			events := rec.snapshot()
			opens, closes := 0, 0
			for _, e := range events {
				if e == "did_open" {
					opens++
				}
				if e == "did_close" {
					closes++
				}
			}
			opensSinceClose = opens - closes
			if opensSinceClose < 0 || opensSinceClose > 1 {
				t.Fatalf("trial %d step %d: unbalanced open/close: %v", trial, i, events)
			}

			state := ws.State()
			if state.IsStarted() != (state == Backoff || state == Auth || state == Open) {
				t.Fatalf("trial %d step %d: IsStarted inconsistent with state %v", trial, i, state)
			}
		}

		if stopped {
			finalEvents := len(rec.snapshot())
			time.Sleep(20 * time.Millisecond)
			if len(rec.snapshot()) != finalEvents && ws.State() == Stopped {
				t.Fatalf("trial %d: callback observed after stop settled", trial)
			}
		}
		_ = opensSinceClose
		q.Stop()
	}
}

func lastOrNil(transport *fakeTransport) *fakeRPC {
	if transport.count() == 0 {
		return nil
	}
	return transport.last()
}

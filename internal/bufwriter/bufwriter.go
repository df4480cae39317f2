// Package bufwriter implements the buffered request writer: a queue of
// frames draining into the transport's send half as the transport signals
// readiness. It is the one object touched from both the worker queue and
// the transport's own threads, so it is mutex-guarded rather than
// assuming single-threaded access.
package bufwriter

import "sync"

// Writer is the send-side buffer for one RPC handle. It is safe for
// concurrent use: the owning stream writes from the worker queue, the
// transport drains from its own thread.
type Writer struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	err    error
	signal chan struct{}
}

// New creates an empty Writer ready to accept frames.
func New() *Writer {
	return &Writer{signal: make(chan struct{}, 1)}
}

func (w *Writer) notify() {
	if w.signal == nil {
		return
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Signal returns a channel that receives a value when a write or a finish
// makes new work available to drain. It buffers at most one value, so
// several writes before the next receive coalesce into a single signal.
// The transport's send loop selects on this instead of polling.
func (w *Writer) Signal() <-chan struct{} {
	return w.signal
}

// WriteValue appends one frame. A no-op once the writer has been finished.
func (w *Writer) WriteValue(b []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	frame := make([]byte, len(b))
	copy(frame, b)
	w.frames = append(w.frames, frame)
	w.notify()
}

// FinishWithError half-closes the writer. Idempotent: the first call wins,
// later calls (with any error value) are no-ops. No further writes are
// accepted after this returns.
func (w *Writer) FinishWithError(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.err = err
	w.notify()
}

// Closed reports whether FinishWithError has been called.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Err returns the error FinishWithError was called with, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Drain removes and returns every frame queued so far, in FIFO order. The
// transport calls this as it signals write-readiness; frames already
// drained are not replayed.
func (w *Writer) Drain() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.frames) == 0 {
		return nil
	}
	out := w.frames
	w.frames = nil
	return out
}

// Pending reports how many frames are queued but not yet drained.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

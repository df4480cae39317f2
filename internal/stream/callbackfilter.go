package stream

import "sync/atomic"

// CallbackFilter is a thin shim interposed between the transport and the
// stream. It carries a single atomic passthrough flag, initially true.
// The stream flips it false before releasing its reference on close; any
// transport callback delivered after that point, including one arriving
// from a foreign thread after Stop has already returned, is silently
// dropped. This is the entire mechanism guaranteeing the delegate
// receives zero callbacks once the stream has stopped.
type CallbackFilter struct {
	passthrough atomic.Bool
	inner       CallbackTarget
}

// NewCallbackFilter wraps inner, starting enabled.
func NewCallbackFilter(inner CallbackTarget) *CallbackFilter {
	f := &CallbackFilter{inner: inner}
	f.passthrough.Store(true)
	return f
}

// Disable permanently drops all future callbacks. Idempotent.
func (f *CallbackFilter) Disable() {
	f.passthrough.Store(false)
}

func (f *CallbackFilter) WriteValue(b []byte) {
	if f.passthrough.Load() {
		f.inner.WriteValue(b)
	}
}

func (f *CallbackFilter) WritesFinishedWithError(err error) {
	if f.passthrough.Load() {
		f.inner.WritesFinishedWithError(err)
	}
}

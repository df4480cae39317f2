package stream

import (
	"fmt"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/bufwriter"
	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/resilience"
)

// idleTimeout is how long an open stream may sit marked-idle before it
// is closed cleanly so the transport can release resources.
const idleTimeout = 60 * time.Second

// Delegate is the minimal callback surface every stream exposes; concrete
// streams embed this into a richer delegate interface of their own
// (WatchDelegate, WriteDelegate).
type Delegate interface {
	OnOpen()
	OnClose(err *resilience.Error)
}

// whitelistedResponseHeaders are logged once per RPC, on the first
// successful inbound frame.
var whitelistedResponseHeaders = map[string]bool{
	"date":                       true,
	"x-google-backends":          true,
	"x-google-netmon-label":      true,
	"x-google-service":           true,
	"x-google-gfe-request-trace": true,
}

// Base owns the lifetime of one streaming RPC: state machine, auth
// handshake, idle timer, backoff coupling, and callback filter.
// WatchStream and WriteStream embed it and supply a FrameHandler plus
// protocol-specific operations.
//
// Start, Stop, MarkIdle and the CallbackTarget methods dispatch onto the
// worker queue and return immediately; the actual state transition runs
// later, serialized with every other event on that same queue. The
// frame-writing operations of the concrete streams (Watch, Unwatch,
// WriteHandshake, WriteMutations) do not dispatch: they must be called
// from a task already running on that queue. Nothing here blocks.
type Base struct {
	q             *queue.Queue
	transport     Transport
	tokenProvider TokenProvider
	path          string
	staticHeaders map[string]string
	backoff       *backoff.Controller
	handler       FrameHandler

	state         State
	delegate      Delegate
	rpc           RPCHandle
	writer        *bufwriter.Writer
	filter        *CallbackFilter
	idle          bool
	idleTask      *queue.CancelableTask
	headersLogged bool
	idleTimeout   time.Duration

	breaker     *resilience.StreamingCircuitBreaker
	breakerDone func(bool)
}

// NewBase constructs a Stream in state Initial. q is the worker queue
// every state mutation and delegate callback for this stream runs on.
func NewBase(q *queue.Queue, transport Transport, tp TokenProvider, path string, headers map[string]string, bcfg backoff.Config) *Base {
	return &Base{
		q:             q,
		transport:     transport,
		tokenProvider: tp,
		path:          path,
		staticHeaders: headers,
		backoff:       backoff.New(q, bcfg),
		state:         Initial,
		idleTimeout:   idleTimeout,
	}
}

// SetIdleTimeoutForTesting overrides the 60s idle window with d.
// Production callers never need this; it exists so tests can observe
// idle-close behavior without a 60-second sleep.
func (s *Base) SetIdleTimeoutForTesting(d time.Duration) { s.idleTimeout = d }

// SetHandler installs the FrameHandler a concrete stream uses to decode
// and dispatch inbound frames. Must be called once, before Start.
func (s *Base) SetHandler(h FrameHandler) { s.handler = h }

// SetBreaker installs a StreamingCircuitBreaker that gates every start
// attempt at the moment it would otherwise request a token: a trip
// manifests as the same Error transition an authentication failure
// would. Nil, the default, disables gating entirely.
func (s *Base) SetBreaker(b *resilience.StreamingCircuitBreaker) { s.breaker = b }

// State returns the current lifecycle state. Safe to call from any
// thread for diagnostics; the value may be stale the instant it returns.
func (s *Base) State() State { return s.state }

// IsStarted reports whether the stream is starting, backing off, or open.
func (s *Base) IsStarted() bool { return s.state.IsStarted() }

// IsOpen reports whether the stream is open and ready for frames.
func (s *Base) IsOpen() bool { return s.state.IsOpen() }

// Start begins (or resumes, after an Error) the stream.
func (s *Base) Start(delegate Delegate) {
	s.q.DispatchAsync(func() { s.startOnQueue(delegate) })
}

func (s *Base) startOnQueue(delegate Delegate) {
	s.q.VerifyIsCurrentQueue()
	switch s.state {
	case Initial:
		s.delegate = delegate
		s.attemptStart()
	case Error:
		s.state = Backoff
		s.delegate = delegate
		s.backoff.RunAfterDelay(func() {
			s.attemptStart()
		})
	default:
		// Stopped is terminal; Backoff/Auth/Open are already started.
		// A second start() is a no-op either way.
	}
}

// attemptStart requests a token and resumes the open sequence. The
// breaker, if installed, gates the attempt here: a trip goes straight to
// Error instead of requesting a token at all, the same Error transition
// an authentication failure would cause.
func (s *Base) attemptStart() {
	if s.breaker != nil {
		done, err := s.breaker.Allow()
		if err != nil {
			s.state = Error
			fireClose(s.delegate, resilience.New(codes.Unavailable, err))
			s.delegate = nil
			return
		}
		s.breakerDone = done
	}
	s.state = Auth
	s.requestTokenAndResume()
}

// reportBreakerResult signals the outcome of the start attempt the most
// recent attemptStart gated, then clears the handle so it is only ever
// reported once per attempt.
func (s *Base) reportBreakerResult(success bool) {
	if s.breakerDone != nil {
		s.breakerDone(success)
		s.breakerDone = nil
	}
}

func (s *Base) requestTokenAndResume() {
	s.tokenProvider.GetToken(false, func(token string, err error) {
		s.q.DispatchAsyncAllowingSameQueue(func() { s.resumeAfterToken(token, err) })
	})
}

func (s *Base) resumeAfterToken(token string, err error) {
	if s.state == Stopped {
		s.reportBreakerResult(true)
		return
	}
	if err != nil {
		s.reportBreakerResult(false)
		s.state = Error
		fireClose(s.delegate, resilience.Normalize(err))
		s.delegate = nil
		return
	}

	writer := bufwriter.New()
	rpc := s.transport.NewRPC(s.path, writer)

	headers := make(map[string]string, len(s.staticHeaders))
	for k, v := range s.staticHeaders {
		headers[k] = v
	}
	rpc.SetRequestHeaders(headers)
	rpc.SetOAuth2AccessToken(token)

	filter := NewCallbackFilter(s)
	if startErr := rpc.Start(filter); startErr != nil {
		s.reportBreakerResult(false)
		s.state = Error
		normalized := resilience.New(codes.Unavailable, startErr)
		fireClose(s.delegate, normalized)
		s.delegate = nil
		return
	}

	s.reportBreakerResult(true)
	s.rpc = rpc
	s.writer = writer
	s.filter = filter
	s.headersLogged = false
	s.state = Open
	s.delegate.OnOpen()
}

// WriteValue implements CallbackTarget: the transport's inbound-frame
// callback, always routed through a CallbackFilter. It bounces onto the
// worker queue before touching any stream state; the transport calls it
// from an unspecified thread.
func (s *Base) WriteValue(b []byte) {
	s.q.DispatchAsyncAllowingSameQueue(func() { s.onFrame(b) })
}

// WritesFinishedWithError implements CallbackTarget: the transport's
// stream-closed callback.
func (s *Base) WritesFinishedWithError(err error) {
	s.q.DispatchAsyncAllowingSameQueue(func() { s.onTransportClosed(err) })
}

func (s *Base) onFrame(b []byte) {
	s.q.VerifyIsCurrentQueue()
	if s.state != Open {
		return
	}
	s.backoff.Reset()
	if !s.headersLogged {
		logResponseHeaders(s.rpc.ResponseHeaders())
		s.headersLogged = true
	}
	if err := s.handler.HandleFrame(b); err != nil {
		s.close(Error, resilience.ParseFailure(err))
	}
}

func (s *Base) onTransportClosed(err error) {
	s.q.VerifyIsCurrentQueue()
	if s.state == Stopped {
		return
	}
	var normalized *resilience.Error
	if err != nil {
		normalized = resilience.Normalize(err)
	} else {
		normalized = resilience.New(codes.Unknown, fmt.Errorf("stream: transport closed without an error"))
	}
	s.close(Error, normalized)
}

// Stop halts the stream. No further delegate callback is ever fired
// after the queued stop runs, enforced by disabling the callback filter
// before the reference is released.
func (s *Base) Stop() {
	s.q.DispatchAsync(func() { s.stopOnQueue() })
}

func (s *Base) stopOnQueue() {
	s.q.VerifyIsCurrentQueue()
	switch s.state {
	case Stopped:
		return
	case Initial:
		s.state = Stopped
	case Backoff:
		s.backoff.Cancel()
		s.state = Stopped
		s.delegate = nil
	case Error:
		s.state = Stopped
		s.delegate = nil
	case Auth, Open:
		s.idleCancel()
		if s.rpc != nil {
			s.rpc.FinishWithError(nil)
		}
		if s.filter != nil {
			s.filter.Disable()
		}
		if s.writer != nil {
			s.writer.FinishWithError(nil)
		}
		s.state = Stopped
		s.filter = nil
		s.delegate = nil
		s.rpc = nil
		s.writer = nil
	}
}

// close tears the stream down into final: idle-cancel, conditional
// backoff reset/saturate, state transition, writer half-close, delegate
// notification (unless the target is Stopped), then filter/delegate/rpc
// teardown. err must be nil unless final is Error.
func (s *Base) close(final State, err *resilience.Error) {
	s.q.VerifyIsCurrentQueue()
	s.idleCancel()

	if final != Error {
		s.backoff.Reset()
	}
	if err != nil && err.Code == codes.ResourceExhausted {
		s.backoff.ResetToMax()
	}

	s.state = final

	if s.writer != nil {
		if final != Error {
			s.writer.FinishWithError(nil)
		}
		s.writer = nil
	}

	if final != Stopped {
		fireClose(s.delegate, err)
	}

	if s.filter != nil {
		s.filter.Disable()
	}
	s.filter = nil
	s.delegate = nil
	s.rpc = nil
	s.headersLogged = false
}

func fireClose(d Delegate, err *resilience.Error) {
	if d == nil {
		return
	}
	d.OnClose(err)
}

// MarkIdle arms the idle timer. Legal only in Open; panics otherwise.
func (s *Base) MarkIdle() {
	s.q.DispatchAsync(func() { s.markIdleOnQueue() })
}

func (s *Base) markIdleOnQueue() {
	s.q.VerifyIsCurrentQueue()
	requirePrecondition(s.state == Open, "mark_idle requires state Open")
	s.idle = true
	if s.idleTask != nil {
		s.idleTask.Cancel()
	}
	s.idleTask = s.q.DispatchAfter(s.idleTimeout, s.idleFire)
}

func (s *Base) idleFire() {
	s.q.VerifyIsCurrentQueue()
	if s.state == Open && s.idle {
		s.close(Initial, nil)
	}
}

// cancelIdleCheck clears the idle flag; any already-scheduled idle task
// becomes a no-op when it fires.
func (s *Base) cancelIdleCheck() {
	s.idle = false
	if s.idleTask != nil {
		s.idleTask.Cancel()
		s.idleTask = nil
	}
}

func (s *Base) idleCancel() { s.cancelIdleCheck() }

// writeFrame enqueues one outbound frame. Requires Open; cancels the
// idle check first so a pending idle close cannot fire under an active
// stream.
func (s *Base) writeFrame(b []byte) error {
	s.q.VerifyIsCurrentQueue()
	requirePrecondition(s.state == Open, "write requires state Open")
	s.cancelIdleCheck()
	if s.writer == nil {
		return fmt.Errorf("stream: no active writer")
	}
	s.writer.WriteValue(b)
	return nil
}

func requirePrecondition(ok bool, what string) {
	if !ok {
		panic("stream: precondition violated: " + what)
	}
}

func logResponseHeaders(headers map[string]string) {
	for k, v := range headers {
		if whitelistedResponseHeaders[k] {
			logging.Debugf("stream: response header %s=%s", k, v)
		}
	}
}

package stream

import (
	"sync"
	"time"

	"github.com/lumen-data/firestream/internal/bufwriter"
)

// fakeRPC is a driveable stand-in for a transport RPC handle: tests push
// frames and closes into it directly, simulating what a real transport
// would deliver from its own goroutine.
type fakeRPC struct {
	mu          sync.Mutex
	headers     map[string]string
	token       string
	target      CallbackTarget
	started     bool
	startErr    error
	finishErr   *error
	respHeaders map[string]string
}

func (r *fakeRPC) SetRequestHeaders(h map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = h
}

func (r *fakeRPC) SetOAuth2AccessToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func (r *fakeRPC) Start(target CallbackTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
	r.started = true
	return r.startErr
}

func (r *fakeRPC) FinishWithError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishErr = &err
}

func (r *fakeRPC) ResponseHeaders() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.respHeaders
}

// deliver simulates the transport pushing one inbound frame, as it would
// from its own foreign thread.
func (r *fakeRPC) deliver(frame []byte) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	target.WriteValue(frame)
}

// closeWithError simulates the transport reporting stream closure.
func (r *fakeRPC) closeWithError(err error) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	target.WritesFinishedWithError(err)
}

func (r *fakeRPC) wasFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishErr != nil
}

// fakeTransport hands out fakeRPCs and remembers the most recent one so
// tests can drive it.
type fakeTransport struct {
	mu       sync.Mutex
	rpcs     []*fakeRPC
	startErr error
}

func (t *fakeTransport) NewRPC(path string, writer *bufwriter.Writer) RPCHandle {
	r := &fakeRPC{startErr: t.startErr}
	t.mu.Lock()
	t.rpcs = append(t.rpcs, r)
	t.mu.Unlock()
	return r
}

func (t *fakeTransport) last() *fakeRPC {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rpcs[len(t.rpcs)-1]
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rpcs)
}

// fakeTokenProvider returns a fixed token or error, synchronously or via
// a goroutine bounce to simulate a foreign-thread callback.
type fakeTokenProvider struct {
	token string
	err   error
	async bool
}

func (tp *fakeTokenProvider) GetToken(forceRefresh bool, cb func(string, error)) {
	if tp.async {
		go cb(tp.token, tp.err)
		return
	}
	cb(tp.token, tp.err)
}

// eventually polls cond until it returns true or the timeout elapses.
func eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

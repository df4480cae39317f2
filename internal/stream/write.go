package stream

import (
	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/wire"
)

// WritePath is the client-push write RPC path.
const WritePath = "/google.firestore.v1beta1.Firestore/Write"

// WriteDelegate receives write-stream events: the base Delegate surface
// plus handshake-complete and per-batch response callbacks.
type WriteDelegate interface {
	Delegate
	OnHandshakeComplete()
	OnResponse(resp wire.WriteResponse)
}

// WriteStream layers handshake gating, stream-token bookkeeping, and
// mutation framing over the generic stream base.
type WriteStream struct {
	*Base
	ser               serializer.Serializer
	delegate          WriteDelegate
	databaseID        string
	handshakeComplete bool
	lastStreamToken   []byte
}

// NewWriteStream constructs a write stream. The stream token survives
// re-opens within one WriteStream instance; it is never persisted across
// process restarts.
func NewWriteStream(q *queue.Queue, transport Transport, tp TokenProvider, headers map[string]string, ser serializer.Serializer, databaseID string, bcfg backoff.Config) *WriteStream {
	wst := &WriteStream{ser: ser, databaseID: databaseID}
	wst.Base = NewBase(q, transport, tp, WritePath, headers, bcfg)
	wst.Base.SetHandler(wst)
	return wst
}

// Start begins the write stream. Every start requires a fresh handshake
// before mutations may flow.
func (wst *WriteStream) Start(delegate WriteDelegate) {
	wst.delegate = delegate
	wst.handshakeComplete = false
	wst.Base.Start(delegate)
}

// HandshakeComplete reports whether WriteMutations is currently legal.
func (wst *WriteStream) HandshakeComplete() bool { return wst.handshakeComplete }

// LastStreamToken returns the most recently echoed stream token.
func (wst *WriteStream) LastStreamToken() []byte { return wst.lastStreamToken }

// WriteHandshake sends the opening database-identifier-only request that
// establishes the session. The stream must be open with no completed
// handshake. Resumption tokens are intentionally never sent here.
func (wst *WriteStream) WriteHandshake() error {
	requirePrecondition(wst.Base.IsOpen() && !wst.handshakeComplete, "write_handshake requires open stream with no completed handshake")
	frame, err := wst.ser.EncodeHandshake(wst.databaseID)
	if err != nil {
		return err
	}
	return wst.Base.writeFrame(frame)
}

// WriteMutations sends mutations plus the current stream token. The
// stream must be open and the handshake complete.
func (wst *WriteStream) WriteMutations(mutations []wire.Mutation) error {
	requirePrecondition(wst.Base.IsOpen() && wst.handshakeComplete, "write_mutations requires a completed handshake")
	frame, err := wst.ser.EncodeMutations(mutations, wst.lastStreamToken)
	if err != nil {
		return err
	}
	return wst.Base.writeFrame(frame)
}

// HandleFrame implements FrameHandler: update the stream token from
// every response; the first response after start completes the
// handshake, every subsequent one carries a commit version and per-write
// results.
func (wst *WriteStream) HandleFrame(frame []byte) error {
	resp, err := wst.ser.DecodeWriteResponse(frame)
	if err != nil {
		return err
	}
	wst.lastStreamToken = resp.StreamToken

	if !wst.handshakeComplete {
		wst.handshakeComplete = true
		if wst.delegate != nil {
			wst.delegate.OnHandshakeComplete()
		}
		return nil
	}
	if wst.delegate != nil {
		wst.delegate.OnResponse(resp)
	}
	return nil
}

package stream

import "github.com/lumen-data/firestream/internal/bufwriter"

// Transport mints an RPC handle given a path and a request writer.
// Concrete implementations (internal/transportrpc) carry gRPC and
// WebSocket framing; the stream package never depends on either
// directly.
type Transport interface {
	NewRPC(path string, writer *bufwriter.Writer) RPCHandle
}

// RPCHandle is one in-flight (or about-to-start) RPC attempt: request
// headers and the bearer token are settable before Start, response
// headers become readable once the first frame arrives.
type RPCHandle interface {
	SetRequestHeaders(headers map[string]string)
	SetOAuth2AccessToken(token string)
	Start(target CallbackTarget) error
	FinishWithError(err error)
	ResponseHeaders() map[string]string
}

// CallbackTarget receives transport events. The transport holds this
// reference for the life of the RPC; in this implementation it always
// points at a CallbackFilter, never at the stream directly.
type CallbackTarget interface {
	WriteValue(b []byte)
	WritesFinishedWithError(err error)
}

// TokenProvider is the narrow slice of the credentials provider the
// stream needs: request a token, get called back (possibly on a foreign
// thread) with the result.
type TokenProvider interface {
	GetToken(forceRefresh bool, callback func(token string, err error))
}

// FrameHandler decodes one inbound frame and dispatches it to whatever
// delegate method the concrete stream's protocol calls for. Returning a
// non-nil error marks the frame a parse failure, which the base stream
// routes through the same close path as a transport error.
type FrameHandler interface {
	HandleFrame(frame []byte) error
}

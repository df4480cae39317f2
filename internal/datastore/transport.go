// Package datastore implements the dispatcher that creates watch/write
// streams and executes the two unary RPCs (commit, batch-get lookup)
// with auth and error normalization.
package datastore

import "context"

// Unary RPC paths on the same service the streaming RPCs use.
const (
	CommitPath = "/google.firestore.v1beta1.Firestore/Commit"
	LookupPath = "/google.firestore.v1beta1.Firestore/BatchGetDocuments"
)

// UnaryTransport is the abstract contract the dispatcher needs for
// one-shot RPCs, the unary counterpart to internal/stream.Transport.
// Concrete implementations live in internal/transportrpc, never imported
// here, so this package stays free of any transport-library dependency,
// the same layering internal/stream uses for its own Transport interface.
type UnaryTransport interface {
	// Invoke performs a single request/response RPC and returns the raw
	// response frame.
	Invoke(ctx context.Context, path string, headers map[string]string, token string, req []byte) ([]byte, error)

	// ServerStream performs a server-streaming RPC (batch-get), invoking
	// onFrame once per response frame in arrival order. A non-nil error
	// from onFrame aborts the stream and is returned as-is; any other
	// transport-level failure is returned as well. A nil return means
	// every onFrame call succeeded and the server closed cleanly.
	ServerStream(ctx context.Context, path string, headers map[string]string, token string, req []byte, onFrame func([]byte) error) error
}

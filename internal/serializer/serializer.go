// Package serializer abstracts the wire-format encoding of stream and
// unary requests and responses. internal/stream depends only on the
// Serializer interface; JSON is the one concrete implementation shipped
// here, built on tidwall/gjson + tidwall/sjson for schema-less JSON
// construction and field extraction, plus timestamppb for the
// seconds/nanos timestamp shape the wire format uses.
package serializer

import (
	"time"

	"github.com/lumen-data/firestream/internal/wire"
)

// Serializer turns the stream's typed requests into frame bytes and frame
// bytes back into typed responses. A stream holds exactly one, injected at
// construction; it never encodes or decodes bytes itself.
type Serializer interface {
	EncodeAddTarget(t wire.Target) ([]byte, error)
	EncodeRemoveTarget(targetID int32) ([]byte, error)
	DecodeListenResponse(frame []byte) (wire.WatchChange, time.Time, error)

	EncodeHandshake(databaseID string) ([]byte, error)
	EncodeMutations(mutations []wire.Mutation, streamToken []byte) ([]byte, error)
	DecodeWriteResponse(frame []byte) (wire.WriteResponse, error)

	// EncodeCommit and EncodeBatchGet serve the unary dispatcher: a
	// one-shot commit carries the same mutation shape as a streamed write
	// batch but no stream token (there is no stream), and batch-get takes
	// document paths with no mutation payload at all.
	EncodeCommit(mutations []wire.Mutation) ([]byte, error)
	DecodeCommitResponse(frame []byte) (time.Time, []wire.WriteResult, error)
	EncodeBatchGet(documentPaths []string) ([]byte, error)
	DecodeLookupResult(frame []byte) (wire.LookupResult, error)
}

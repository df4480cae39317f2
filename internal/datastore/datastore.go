package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc/codes"

	"github.com/lumen-data/firestream/internal/backoff"
	"github.com/lumen-data/firestream/internal/config"
	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/resilience"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/stream"
	"github.com/lumen-data/firestream/internal/wire"
)

// clientVersion is shared with internal/transportrpc's header builder; the
// two packages can't import one another (transportrpc implements
// UnaryTransport, which would cycle back here), so the one-line header
// format is kept independently in each.
const clientVersion = "1.0.0"

func init() {
	// resilience.DefaultBreakerConfig reads this hook for every breaker it
	// builds, and counts only a nil error as success while it is unset;
	// wiring it here (rather than in internal/resilience
	// itself) keeps the breaker package free of any knowledge of what
	// counts as a "successful" datastore RPC. Caller-initiated cancellation
	// must not count as a breaker failure; a client giving up on a slow
	// request says nothing about the server's health.
	resilience.DefaultIsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, context.Canceled)
	}
}

// CommitResult is what a Commit completion receives: the server's commit
// version plus one WriteResult per mutation, in request order.
type CommitResult struct {
	CommitTime time.Time
	Results    []wire.WriteResult
}

// Datastore creates watch/write streams and executes the commit and
// batch-get unary RPCs, attaching auth and normalizing errors the same
// way for both. A Datastore does not track the streams it creates; each
// is transferred to its caller the moment NewWatchStream/NewWriteStream
// returns.
type Datastore struct {
	q               *queue.Queue
	streamTransport stream.Transport
	unary           UnaryTransport
	tokens          stream.TokenProvider
	ser             serializer.Serializer
	info            config.DatabaseInfo
	headers         map[string]string

	bcfg backoff.Config

	commitBreaker *resilience.CircuitBreaker
	lookupBreaker *resilience.CircuitBreaker
	streamBreaker *resilience.StreamingCircuitBreaker
}

// New builds a Datastore bound to q (the worker queue every stream it
// creates, and every completion it fires, runs on), streamTransport (for
// watch/write streams), unary (for commit/batch-get), tokens, and ser.
// bcfg paces restart attempts for every stream this Datastore creates.
func New(q *queue.Queue, streamTransport stream.Transport, unary UnaryTransport, tokens stream.TokenProvider, ser serializer.Serializer, info config.DatabaseInfo, bcfg backoff.Config) *Datastore {
	return &Datastore{
		q:               q,
		streamTransport: streamTransport,
		unary:           unary,
		tokens:          tokens,
		ser:             ser,
		info:            info,
		headers:         requiredHeaders(info),
		bcfg:            bcfg,
		commitBreaker:   resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("firestore-commit")),
		lookupBreaker:   resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("firestore-lookup")),
		streamBreaker:   resilience.NewStreamingCircuitBreaker(resilience.DefaultBreakerConfig("firestore-stream")),
	}
}

// NewWatchStream creates a watch stream bound to this Datastore's
// transport, credentials, and serializer. Ownership transfers to the
// caller immediately; the Datastore keeps no reference. Every start
// attempt is gated by the shared stream breaker.
func (d *Datastore) NewWatchStream() *stream.WatchStream {
	ws := stream.NewWatchStream(d.q, d.streamTransport, d.tokens, d.headers, d.ser, d.bcfg)
	ws.SetBreaker(d.streamBreaker)
	return ws
}

// NewWriteStream creates a write stream, scoped to this Datastore's
// database identifier for the handshake request. Gated by the same
// shared stream breaker as NewWatchStream.
func (d *Datastore) NewWriteStream() *stream.WriteStream {
	wst := stream.NewWriteStream(d.q, d.streamTransport, d.tokens, d.headers, d.ser, d.info.DatabaseID, d.bcfg)
	wst.SetBreaker(d.streamBreaker)
	return wst
}

// Commit executes the unary commit RPC: request a token, build and start
// the RPC on the worker queue, normalize whatever comes back, and invoke
// completion on the worker queue exactly once.
func (d *Datastore) Commit(mutations []wire.Mutation, completion func(CommitResult, *resilience.Error)) {
	d.q.DispatchAsync(func() { d.commitOnQueue(mutations, completion) })
}

func (d *Datastore) commitOnQueue(mutations []wire.Mutation, completion func(CommitResult, *resilience.Error)) {
	d.q.VerifyIsCurrentQueue()
	requestID := uuid.NewString()
	d.tokens.GetToken(false, func(token string, err error) {
		d.q.DispatchAsyncAllowingSameQueue(func() {
			if err != nil {
				completion(CommitResult{}, resilience.Normalize(err))
				return
			}
			d.runCommit(requestID, token, mutations, completion)
		})
	})
}

func (d *Datastore) runCommit(requestID, token string, mutations []wire.Mutation, completion func(CommitResult, *resilience.Error)) {
	req, err := d.ser.EncodeCommit(mutations)
	if err != nil {
		completion(CommitResult{}, resilience.ParseFailure(err))
		return
	}

	logging.Debugf("datastore: commit %s: dispatching %d mutation(s)", requestID, len(mutations))
	go func() {
		raw, execErr := d.commitBreaker.Execute(func() (any, error) {
			return d.unary.Invoke(context.Background(), CommitPath, d.headers, token, req)
		})
		d.q.DispatchAsyncAllowingSameQueue(func() {
			if execErr != nil {
				completion(CommitResult{}, classifyUnaryError(execErr))
				return
			}
			frame, _ := raw.([]byte)
			commitTime, results, decErr := d.ser.DecodeCommitResponse(frame)
			if decErr != nil {
				completion(CommitResult{}, resilience.ParseFailure(decErr))
				return
			}
			completion(CommitResult{CommitTime: commitTime, Results: results}, nil)
		})
	}()
}

// Lookup executes the unary batch-get RPC: a server-streaming call that
// returns one LookupResult per requested document path, in whatever
// order the server delivers them.
func (d *Datastore) Lookup(documentPaths []string, completion func([]wire.LookupResult, *resilience.Error)) {
	d.q.DispatchAsync(func() { d.lookupOnQueue(documentPaths, completion) })
}

func (d *Datastore) lookupOnQueue(documentPaths []string, completion func([]wire.LookupResult, *resilience.Error)) {
	d.q.VerifyIsCurrentQueue()
	requestID := uuid.NewString()
	d.tokens.GetToken(false, func(token string, err error) {
		d.q.DispatchAsyncAllowingSameQueue(func() {
			if err != nil {
				completion(nil, resilience.Normalize(err))
				return
			}
			d.runLookup(requestID, token, documentPaths, completion)
		})
	})
}

func (d *Datastore) runLookup(requestID, token string, documentPaths []string, completion func([]wire.LookupResult, *resilience.Error)) {
	req, err := d.ser.EncodeBatchGet(documentPaths)
	if err != nil {
		completion(nil, resilience.ParseFailure(err))
		return
	}

	logging.Debugf("datastore: lookup %s: requesting %d document(s)", requestID, len(documentPaths))
	go func() {
		var results []wire.LookupResult
		var decodeErr error
		_, execErr := d.lookupBreaker.Execute(func() (any, error) {
			return nil, d.unary.ServerStream(context.Background(), LookupPath, d.headers, token, req, func(frame []byte) error {
				r, derr := d.ser.DecodeLookupResult(frame)
				if derr != nil {
					decodeErr = derr
					return derr
				}
				results = append(results, r)
				return nil
			})
		})
		d.q.DispatchAsyncAllowingSameQueue(func() {
			if decodeErr != nil {
				completion(nil, resilience.ParseFailure(decodeErr))
				return
			}
			if execErr != nil {
				completion(nil, classifyUnaryError(execErr))
				return
			}
			completion(results, nil)
		})
	}()
}

// classifyUnaryError normalizes execErr into the Firestore error domain,
// translating an open or half-open circuit breaker trip into the same
// Unavailable a real transport-layer failure produces.
func classifyUnaryError(err error) *resilience.Error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return resilience.New(codes.Unavailable, err)
	}
	return resilience.Normalize(err)
}

// requiredHeaders builds the fixed request-header set every RPC carries,
// excluding Authorization (installed separately, conditional on a
// non-empty token, same as internal/stream's Start path does for
// streaming RPCs).
func requiredHeaders(info config.DatabaseInfo) map[string]string {
	return map[string]string{
		"x-goog-api-client":            fmt.Sprintf("gl-go/ fire/%s grpc/", clientVersion),
		"google-cloud-resource-prefix": fmt.Sprintf("projects/%s/databases/%s", info.ProjectID, info.DatabaseID),
	}
}

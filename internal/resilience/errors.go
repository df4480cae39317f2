package resilience

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is the normalized error type every caller-facing API in this
// module returns: a gRPC status code plus the underlying cause.
type Error struct {
	Code  codes.Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a normalized Error with the given code and cause.
func New(code codes.Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}

// Normalize maps an arbitrary error into the Firestore error domain,
// preserving code and cause. Errors already carrying a gRPC status
// (including ones produced by the transport) keep their code; everything
// else becomes Unknown with the original attached.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if st, ok := status.FromError(err); ok {
		return &Error{Code: st.Code(), Cause: err}
	}
	return &Error{Code: codes.Unknown, Cause: err}
}

// ParseFailure converts a frame-decoding failure into an Internal error,
// which the stream routes through the same close path as a transport
// error.
func ParseFailure(cause error) *Error {
	return &Error{Code: codes.Internal, Cause: cause}
}

// IsPermanentWrite classifies a write error for higher layers deciding
// whether to surface it to the application or retry. Transient
// (retryable): Cancelled, Unknown, DeadlineExceeded, ResourceExhausted,
// Internal, Unavailable, Unauthenticated. Permanent (surface): everything
// else, including Aborted. The classification of Aborted is
// context-dependent; taking the code as a parameter leaves callers free
// to override it.
func IsPermanentWrite(code codes.Code) bool {
	switch code {
	case codes.Canceled, codes.Unknown, codes.DeadlineExceeded,
		codes.ResourceExhausted, codes.Internal, codes.Unavailable,
		codes.Unauthenticated:
		return false
	default:
		return true
	}
}

// IsResourceExhausted reports whether err is (or wraps) a ResourceExhausted
// error, the one code the stream close path treats specially: it saturates
// the stream's backoff to its maximum instead of resetting it.
func IsResourceExhausted(err error) bool {
	return Normalize(err).Code == codes.ResourceExhausted
}

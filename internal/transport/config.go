// Package transport holds the shared connection-tuning knobs the gRPC
// and WebSocket dial paths read, kept out of transportrpc so embedders
// can import the values without pulling in either transport stack.
package transport

import "time"

// Config is the single source of truth for stream liveness settings.
// The HTTP/2 values feed gRPC keepalive; the dial timeout bounds both
// the WebSocket handshake and any blocking connection attempt.
var Config = struct {
	DialTimeout time.Duration

	// HTTP/2 specific settings
	H2ReadIdleTimeout time.Duration
	H2PingTimeout     time.Duration
}{
	DialTimeout: 30 * time.Second,

	// Long-lived watch/write streams sit quiet for stretches; ping early
	// enough that a dead connection is noticed before the server's own
	// idle reaping kicks in.
	H2ReadIdleTimeout: 30 * time.Second,
	H2PingTimeout:     15 * time.Second,
}

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/lumen-data/firestream/internal/config"
	"github.com/lumen-data/firestream/internal/credentials"
	"github.com/lumen-data/firestream/internal/datastore"
	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/queue"
	"github.com/lumen-data/firestream/internal/serializer"
	"github.com/lumen-data/firestream/internal/stream"
	"github.com/lumen-data/firestream/internal/transportrpc"
)

// session bundles the shared dependencies every subcommand needs: the
// worker queue every stream and every dispatcher completion runs on, the
// Datastore dispatcher itself, and the connection backing both the
// streaming and unary transports. Unary RPCs (commit, batch-get) always
// dial gRPC directly, since WebSocketTransport only implements the
// streaming half of stream.Transport.
type session struct {
	q    *queue.Queue
	ds   *datastore.Datastore
	conn io.Closer
}

func (s *session) Close() {
	s.q.Stop()
	_ = s.conn.Close()
}

// runOnQueue runs fn as a task on the session's worker queue and blocks
// until it has executed. Stream operations (Watch, WriteHandshake,
// WriteMutations) assert they are on the worker queue, so the CLI's main
// goroutine must hop onto it to call them; a precondition panic inside
// fn comes back as an error instead of killing the queue.
func (s *session) runOnQueue(fn func() error) error {
	errCh := make(chan error, 1)
	s.q.DispatchAsync(func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%v", r)
			}
		}()
		errCh <- fn()
	})
	return <-errCh
}

// drain waits for every task enqueued so far (a Stop, typically) to run.
func (s *session) drain() {
	_ = s.runOnQueue(func() error { return nil })
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return config.Config{}, err
			}
			cfg = loaded
		}
	}
	if useWebSocket {
		cfg.UseWebSocket = true
	}
	// An explicit --log-level beats the config file's log_level.
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.LogLevel != "" {
		applyLogLevel(cfg.LogLevel)
	}
	if cfg.LogFile != "" {
		logging.EnableFileSink(cfg.LogFile, 20, 5, 14)
	}
	return cfg, nil
}

func newSession(cfg config.Config) (*session, error) {
	conn, err := transportrpc.DialGRPC(cfg.Database.Host, cfg.Database.SSLEnabled)
	if err != nil {
		return nil, fmt.Errorf("firestreamctl: dialing %s: %w", cfg.Database.Host, err)
	}

	q := queue.New()
	var streamTransport stream.Transport
	if cfg.UseWebSocket {
		streamTransport = transportrpc.NewWebSocketTransport(cfg.Database.Host, cfg.Database.SSLEnabled)
	} else {
		streamTransport = transportrpc.NewGRPCTransport(conn, cfg.Database.Host, cfg.Database.SSLEnabled)
	}
	unaryTransport := transportrpc.NewGRPCUnaryTransport(conn)

	cachePath := cfg.TokenCachePath
	if cachePath == "" {
		cachePath = defaultTokenCachePath(cfg.Database.PersistenceKey)
	}
	tokens, err := credentials.NewProvider(loadTokenSource(), cachePath)
	if err != nil {
		return nil, fmt.Errorf("firestreamctl: building token provider: %w", err)
	}

	ds := datastore.New(q, streamTransport, unaryTransport, tokens, serializer.JSON{}, cfg.Database, cfg.Backoff.ToBackoffConfig())
	return &session{q: q, ds: ds, conn: conn}, nil
}

// loadTokenSource returns a static token source holding an empty token.
// The Provider built on it serves whatever still-valid token the on-disk
// cache (populated by `firestreamctl login`) holds; when the cache has
// none, it gets this empty token, which the transports send without an
// Authorization header. Nothing here refreshes a token: the interactive
// login flow is the only thing that mints a fresh token for this CLI.
// A production embedding supplies its
// own oauth2.TokenSource instead (service-account credentials, a mobile
// OS-level credential store, etc).
func loadTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{})
}

func defaultTokenCachePath(persistenceKey string) string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := persistenceKey
	if name == "" {
		name = "default"
	}
	return filepath.Join(dir, "firestreamctl", name+".token.json")
}

// Package credentials provides the token source the streams and the
// datastore authenticate with: a stream.TokenProvider backed by
// golang.org/x/oauth2, an on-disk cache invalidated by fsnotify, and a
// PKCE-based interactive login flow (pkce.go, login.go).
package credentials

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/stream"
)

// GetTokenResult is one immutable per-request token result.
type GetTokenResult struct {
	Token       string
	RequestTime time.Time
}

// Provider adapts an oauth2.TokenSource into stream.TokenProvider. The
// callback always fires on a goroutine distinct from the caller, so
// every caller must bounce back onto its own worker queue before
// touching stream state, which is what internal/stream's
// requestTokenAndResume already does.
type Provider struct {
	mu     sync.Mutex
	source oauth2.TokenSource
	cache  *tokenCache
	group  singleflight.Group
}

var _ stream.TokenProvider = (*Provider)(nil)

// NewProvider wraps source, an already-configured token source (for
// example one produced by Login, or a refresh-token source built
// directly from golang.org/x/oauth2). cachePath may be empty to
// disable on-disk caching.
func NewProvider(source oauth2.TokenSource, cachePath string) (*Provider, error) {
	p := &Provider{source: source}
	if cachePath != "" {
		c, err := newTokenCache(cachePath)
		if err != nil {
			return nil, err
		}
		p.cache = c
	}
	return p, nil
}

// GetToken implements stream.TokenProvider. Without forceRefresh, a cached
// token that is present and still valid is returned without asking
// source. With forceRefresh, or when the cache has nothing valid, it asks
// source (whose own memoization and refresh behavior still apply) and
// stores the result in the cache.
func (p *Provider) GetToken(forceRefresh bool, callback func(token string, err error)) {
	go func() {
		if !forceRefresh && p.cache != nil {
			if cached, ok := p.cache.load(); ok && cached.Valid() {
				callback(cached.AccessToken, nil)
				return
			}
		}

		// Every watch, write, and unary-RPC caller that wakes up wanting a
		// fresh token at once (e.g. right after a shared reconnect) folds
		// into a single source.Token() call instead of stampeding it.
		v, err, _ := p.group.Do("token", func() (interface{}, error) {
			p.mu.Lock()
			tok, err := p.source.Token()
			p.mu.Unlock()
			if err != nil {
				return nil, err
			}
			if p.cache != nil {
				if cerr := p.cache.store(tok); cerr != nil {
					logging.Warnf("credentials: failed to persist token cache: %v", cerr)
				}
			}
			return tok.AccessToken, nil
		})
		if err != nil {
			logging.Errorf("credentials: token acquisition failed: %v", err)
			callback("", err)
			return
		}

		callback(v.(string), nil)
	}()
}

// Close releases the cache's filesystem watcher, if any.
func (p *Provider) Close() error {
	if p.cache != nil {
		return p.cache.close()
	}
	return nil
}

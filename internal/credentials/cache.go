package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/oauth2"

	"github.com/lumen-data/firestream/internal/logging"
)

// cachedToken is the on-disk shape of one cached access token.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry"`
}

// Valid reports whether the token is still usable, with a minute of
// slack so a token does not expire mid-RPC.
func (c cachedToken) Valid() bool {
	return c.AccessToken != "" && time.Now().Before(c.Expiry.Add(-time.Minute))
}

// tokenCache persists a single token to disk and invalidates its
// in-memory copy whenever the file changes underneath it, for example
// when a sibling process (a CLI login flow) refreshes it.
type tokenCache struct {
	path    string
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	current cachedToken
	loaded  bool
}

func newTokenCache(path string) (*tokenCache, error) {
	c := &tokenCache{path: path}
	if tok, err := readTokenFile(path); err == nil {
		c.current = tok
		c.loaded = true
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	c.watcher = watcher
	go c.watchLoop()
	return c, nil
}

func (c *tokenCache) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
				c.invalidate()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logging.Warnf("credentials: token cache watcher error: %v", err)
		}
	}
}

func (c *tokenCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, err := readTokenFile(c.path); err == nil {
		c.current = tok
		c.loaded = true
	} else {
		c.loaded = false
	}
}

func (c *tokenCache) load() (cachedToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.loaded
}

func (c *tokenCache) store(tok *oauth2.Token) error {
	entry := cachedToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = entry
	c.loaded = true
	c.mu.Unlock()

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

func (c *tokenCache) close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

func readTokenFile(path string) (cachedToken, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return cachedToken{}, err
	}
	var tok cachedToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return cachedToken{}, err
	}
	return tok, nil
}

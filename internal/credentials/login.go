package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/skratchdot/open-golang/open"
	"golang.org/x/oauth2"

	"github.com/lumen-data/firestream/internal/logging"
)

// LoginConfig names the OAuth2 endpoint and client this process
// authenticates against. The datastore's own project/database identity
// is orthogonal to this; one login grants access to whichever projects
// the account is authorized for.
type LoginConfig struct {
	OAuth2Config *oauth2.Config
	// ListenAddr is the loopback address the local redirect-URI callback
	// server binds, e.g. "127.0.0.1:0" to let the OS choose a free port.
	ListenAddr string
}

// Login runs an interactive PKCE authorization-code flow (RFC 7636):
// open the system browser at the provider's consent screen, listen on a
// loopback HTTP server for the redirect, and exchange the code for a
// token. Returns an oauth2.TokenSource that auto-refreshes using
// whatever refresh token the exchange returned.
func Login(ctx context.Context, cfg LoginConfig) (oauth2.TokenSource, error) {
	codes, err := newPKCECodes()
	if err != nil {
		return nil, err
	}
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("credentials: binding loopback listener: %w", err)
	}
	defer listener.Close()

	redirectURL := fmt.Sprintf("http://%s/callback", listener.Addr().String())
	oauthCfg := *cfg.OAuth2Config
	oauthCfg.RedirectURL = redirectURL

	authURL := oauthCfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codes.challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("state"); got != state {
			errCh <- fmt.Errorf("credentials: state mismatch in oauth callback")
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			errCh <- fmt.Errorf("credentials: authorization denied: %s", errParam)
			http.Error(w, "authorization denied", http.StatusForbidden)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errCh <- fmt.Errorf("credentials: no code in oauth callback")
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Login complete. You can close this tab and return to the terminal.")
		codeCh <- code
	})
	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer server.Close()

	logging.Infof("credentials: opening browser for login: %s", authURL)
	if err := open.Run(authURL); err != nil {
		logging.Warnf("credentials: could not open browser automatically, visit: %s", authURL)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("credentials: timed out waiting for login callback")
	}

	tok, err := oauthCfg.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codes.verifier),
	)
	if err != nil {
		return nil, fmt.Errorf("credentials: exchanging code: %w", err)
	}

	return oauthCfg.TokenSource(ctx, tok), nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

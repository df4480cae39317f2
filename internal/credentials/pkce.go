package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkceCodes is one verifier/challenge pair for an RFC 7636 authorization
// code flow: the challenge goes out with the authorization request, the
// verifier with the token exchange, so an intercepted code is useless on
// its own.
type pkceCodes struct {
	verifier  string
	challenge string
}

var b64url = base64.URLEncoding.WithPadding(base64.NoPadding)

// newPKCECodes draws a fresh random verifier and derives its S256
// challenge.
func newPKCECodes() (pkceCodes, error) {
	raw := make([]byte, 96)
	if _, err := rand.Read(raw); err != nil {
		return pkceCodes{}, fmt.Errorf("credentials: generating pkce verifier: %w", err)
	}
	verifier := b64url.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	return pkceCodes{
		verifier:  verifier,
		challenge: b64url.EncodeToString(sum[:]),
	}, nil
}

// Package transportrpc provides the two concrete Transport implementations
// (gRPC and WebSocket) behind internal/stream's abstract Transport
// contract, plus the required/whitelisted header handling both share.
package transportrpc

import "fmt"

// clientVersion is embedded into the x-goog-api-client header; the token
// positions around it are placeholders the server-side parser expects.
const clientVersion = "1.0.0"

// APIClientHeader builds the x-goog-api-client header value.
func APIClientHeader() string {
	return fmt.Sprintf("gl-go/ fire/%s grpc/", clientVersion)
}

// ResourcePrefixHeader builds the google-cloud-resource-prefix header
// value for a given project/database pair.
func ResourcePrefixHeader(projectID, databaseID string) string {
	return fmt.Sprintf("projects/%s/databases/%s", projectID, databaseID)
}

// RequiredHeaders builds the fixed request-header set every RPC carries,
// excluding Authorization (installed separately via SetOAuth2AccessToken
// since it's conditional on a non-empty token).
func RequiredHeaders(projectID, databaseID string) map[string]string {
	return map[string]string{
		"x-goog-api-client":            APIClientHeader(),
		"google-cloud-resource-prefix": ResourcePrefixHeader(projectID, databaseID),
	}
}

// whitelistedResponseHeaders mirrors internal/stream's copy; kept here
// too since transports may want to log at the wire layer independent of
// the stream's own first-frame log point.
var whitelistedResponseHeaders = map[string]bool{
	"date":                       true,
	"x-google-backends":          true,
	"x-google-netmon-label":      true,
	"x-google-service":           true,
	"x-google-gfe-request-trace": true,
}

func filterWhitelisted(headers map[string][]string) map[string]string {
	out := make(map[string]string)
	for k, v := range headers {
		if len(v) == 0 {
			continue
		}
		if whitelistedResponseHeaders[normalizeHeaderKey(k)] {
			out[normalizeHeaderKey(k)] = v[0]
		}
	}
	return out
}

func normalizeHeaderKey(k string) string {
	out := make([]byte, len(k))
	for i := 0; i < len(k); i++ {
		c := k[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

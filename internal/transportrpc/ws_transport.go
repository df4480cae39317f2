package transportrpc

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lumen-data/firestream/internal/bufwriter"
	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/stream"
	"github.com/lumen-data/firestream/internal/transport"
)

// WebSocketTransport is the alternate stream.Transport implementation
// for environments where HTTP/2 streaming is unavailable: one frame per
// message, a dedicated reader goroutine, and a single sender goroutine
// since *websocket.Conn forbids concurrent writers.
type WebSocketTransport struct {
	host   string
	ssl    bool
	dialer *websocket.Dialer
	header http.Header
}

// NewWebSocketTransport builds a transport dialing host for every RPC.
func NewWebSocketTransport(host string, ssl bool) *WebSocketTransport {
	return &WebSocketTransport{
		host: host,
		ssl:  ssl,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: transport.Config.DialTimeout,
		},
		header: http.Header{},
	}
}

func (t *WebSocketTransport) Host() string    { return t.host }
func (t *WebSocketTransport) SSLEnabled() bool { return t.ssl }

func (t *WebSocketTransport) NewRPC(path string, writer *bufwriter.Writer) stream.RPCHandle {
	scheme := "ws"
	if t.ssl {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: t.host, Path: path}
	return &wsRPCHandle{transport: t, url: u, writer: writer, headers: http.Header{}}
}

type wsRPCHandle struct {
	transport *WebSocketTransport
	url       url.URL
	writer    *bufwriter.Writer

	mu          sync.Mutex
	headers     http.Header
	token       string
	conn        *websocket.Conn
	target      stream.CallbackTarget
	respHeaders map[string]string
	finished    bool
	done        chan struct{}
}

func (h *wsRPCHandle) SetRequestHeaders(headers map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range headers {
		h.headers.Set(k, v)
	}
}

func (h *wsRPCHandle) SetOAuth2AccessToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

func (h *wsRPCHandle) Start(target stream.CallbackTarget) error {
	h.mu.Lock()
	headers := h.headers.Clone()
	if h.token != "" {
		headers.Set("Authorization", "Bearer "+h.token)
	}
	h.target = target
	h.done = make(chan struct{})
	h.mu.Unlock()

	conn, resp, err := h.transport.dialer.Dial(h.url.String(), headers)
	if err != nil {
		return fmt.Errorf("transportrpc(ws): dial %s: %w", h.url.String(), err)
	}

	h.mu.Lock()
	h.conn = conn
	if resp != nil {
		h.respHeaders = filterWhitelisted(resp.Header)
		for k, v := range h.respHeaders {
			logging.Debugf("transportrpc(ws): response header %s=%s", k, v)
		}
	}
	h.mu.Unlock()

	go h.recvLoop(conn)
	go h.sendLoop(conn)
	return nil
}

func (h *wsRPCHandle) recvLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				h.target.WritesFinishedWithError(nil)
			} else {
				h.target.WritesFinishedWithError(err)
			}
			return
		}
		h.target.WriteValue(frame)
	}
}

func (h *wsRPCHandle) sendLoop(conn *websocket.Conn) {
	for {
		select {
		case <-h.writer.Signal():
		case <-h.doneCh():
			return
		}
		for _, frame := range h.writer.Drain() {
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
		if h.writer.Closed() {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *wsRPCHandle) doneCh() chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *wsRPCHandle) FinishWithError(err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	conn := h.conn
	done := h.done
	h.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (h *wsRPCHandle) ResponseHeaders() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.respHeaders
}

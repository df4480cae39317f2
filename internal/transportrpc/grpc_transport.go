package transportrpc

import (
	"context"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/lumen-data/firestream/internal/bufwriter"
	"github.com/lumen-data/firestream/internal/logging"
	"github.com/lumen-data/firestream/internal/stream"
)

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawCodec passes frame bytes straight through gRPC's message framing
// without touching them. internal/serializer already turned typed
// requests/responses into bytes before the stream ever calls the
// transport; there is no protobuf message for the transport layer to
// know about.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("transportrpc: rawCodec.Marshal: unexpected type %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("transportrpc: rawCodec.Unmarshal: unexpected type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// GRPCTransport implements stream.Transport over a shared *grpc.ClientConn.
type GRPCTransport struct {
	conn *grpc.ClientConn
	host string
	ssl  bool
}

// NewGRPCTransport wraps an already-dialed connection. Dialing (TLS,
// keepalive) is the caller's concern, typically DialGRPC, which
// translates internal/transport.Config's HTTP/2 tuning into
// grpc.DialOptions; gzip compression is selected per call in Start.
func NewGRPCTransport(conn *grpc.ClientConn, host string, ssl bool) *GRPCTransport {
	return &GRPCTransport{conn: conn, host: host, ssl: ssl}
}

func (t *GRPCTransport) Host() string    { return t.host }
func (t *GRPCTransport) SSLEnabled() bool { return t.ssl }

func (t *GRPCTransport) NewRPC(path string, writer *bufwriter.Writer) stream.RPCHandle {
	ctx, cancel := context.WithCancel(context.Background())
	return &grpcRPCHandle{
		conn:   t.conn,
		path:   path,
		ctx:    ctx,
		cancel: cancel,
		writer: writer,
		md:     metadata.MD{},
	}
}

type grpcRPCHandle struct {
	conn   *grpc.ClientConn
	path   string
	ctx    context.Context
	cancel context.CancelFunc
	writer *bufwriter.Writer

	mu          sync.Mutex
	md          metadata.MD
	token       string
	target      stream.CallbackTarget
	grpcStream  grpc.ClientStream
	respHeaders map[string]string
	finished    bool
}

func (h *grpcRPCHandle) SetRequestHeaders(headers map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, v := range headers {
		h.md.Set(k, v)
	}
}

func (h *grpcRPCHandle) SetOAuth2AccessToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

func (h *grpcRPCHandle) Start(target stream.CallbackTarget) error {
	h.mu.Lock()
	h.target = target
	md := h.md.Copy()
	if h.token != "" {
		md.Set("authorization", "Bearer "+h.token)
	}
	h.mu.Unlock()

	ctx := metadata.NewOutgoingContext(h.ctx, md)
	desc := &grpc.StreamDesc{StreamName: h.path, ClientStreams: true, ServerStreams: true}
	grpcStream, err := h.conn.NewStream(ctx, desc, h.path, grpc.CallContentSubtype(rawCodec{}.Name()), grpc.UseCompressor(gzipName))
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.grpcStream = grpcStream
	h.mu.Unlock()

	go h.recvLoop(grpcStream)
	go h.sendLoop(grpcStream)
	return nil
}

func (h *grpcRPCHandle) recvLoop(s grpc.ClientStream) {
	for {
		var frame []byte
		if err := s.RecvMsg(&frame); err != nil {
			h.captureResponseHeaders(s)
			if err == io.EOF {
				h.target.WritesFinishedWithError(nil)
			} else {
				h.target.WritesFinishedWithError(err)
			}
			return
		}
		h.captureResponseHeaders(s)
		h.target.WriteValue(frame)
	}
}

func (h *grpcRPCHandle) captureResponseHeaders(s grpc.ClientStream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.respHeaders != nil {
		return
	}
	md, err := s.Header()
	if err != nil || md == nil {
		return
	}
	h.respHeaders = filterWhitelisted(md)
	for k, v := range h.respHeaders {
		logging.Debugf("transportrpc(grpc): response header %s=%s", k, v)
	}
}

func (h *grpcRPCHandle) sendLoop(s grpc.ClientStream) {
	for {
		select {
		case <-h.writer.Signal():
		case <-h.ctx.Done():
			return
		}
		for _, frame := range h.writer.Drain() {
			f := frame
			if err := s.SendMsg(&f); err != nil {
				return
			}
		}
		if h.writer.Closed() {
			_ = s.CloseSend()
			return
		}
	}
}

func (h *grpcRPCHandle) FinishWithError(err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.mu.Unlock()

	h.cancel()
	if err != nil {
		logging.Debugf("transportrpc(grpc): finishing rpc %s with error: %v", h.path, status.Convert(err).Message())
	}
}

func (h *grpcRPCHandle) ResponseHeaders() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.respHeaders
}

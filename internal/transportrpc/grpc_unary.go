package transportrpc

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/lumen-data/firestream/internal/datastore"
)

// GRPCUnaryTransport implements datastore.UnaryTransport over a shared
// *grpc.ClientConn: Invoke drives the commit RPC (one request, one
// response), ServerStream drives batch-get (one request, a server-streamed
// sequence of responses). Both reuse the rawCodec grpc_transport.go
// registers and the gzip compressor compressor.go registers, since
// commit/batch-get frames are the same
// pre-serialized bytes internal/serializer produces for the streaming RPCs.
type GRPCUnaryTransport struct {
	conn *grpc.ClientConn
}

var _ datastore.UnaryTransport = (*GRPCUnaryTransport)(nil)

// NewGRPCUnaryTransport wraps an already-dialed connection, typically the
// same *grpc.ClientConn backing a GRPCTransport for the watch/write
// streams.
func NewGRPCUnaryTransport(conn *grpc.ClientConn) *GRPCUnaryTransport {
	return &GRPCUnaryTransport{conn: conn}
}

func (t *GRPCUnaryTransport) outgoingContext(ctx context.Context, headers map[string]string, token string) context.Context {
	md := metadata.MD{}
	for k, v := range headers {
		md.Set(k, v)
	}
	if token != "" {
		md.Set("authorization", "Bearer "+token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// Invoke implements datastore.UnaryTransport: a plain unary RPC using
// grpc.ClientConn.Invoke and the raw codec.
func (t *GRPCUnaryTransport) Invoke(ctx context.Context, path string, headers map[string]string, token string, req []byte) ([]byte, error) {
	ctx = t.outgoingContext(ctx, headers, token)
	var resp []byte
	reqCopy := req
	if err := t.conn.Invoke(ctx, path, &reqCopy, &resp, grpc.CallContentSubtype(rawCodec{}.Name()), grpc.UseCompressor(gzipName)); err != nil {
		return nil, err
	}
	return resp, nil
}

// ServerStream implements datastore.UnaryTransport: a single request frame
// followed by a server-streamed sequence of response frames, same shape as
// Firestore's BatchGetDocuments RPC.
func (t *GRPCUnaryTransport) ServerStream(ctx context.Context, path string, headers map[string]string, token string, req []byte, onFrame func([]byte) error) error {
	ctx = t.outgoingContext(ctx, headers, token)
	desc := &grpc.StreamDesc{StreamName: path, ClientStreams: false, ServerStreams: true}
	cs, err := t.conn.NewStream(ctx, desc, path, grpc.CallContentSubtype(rawCodec{}.Name()), grpc.UseCompressor(gzipName))
	if err != nil {
		return err
	}

	reqCopy := req
	if err := cs.SendMsg(&reqCopy); err != nil {
		return err
	}
	if err := cs.CloseSend(); err != nil {
		return err
	}

	for {
		var frame []byte
		if err := cs.RecvMsg(&frame); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if err := onFrame(frame); err != nil {
			return err
		}
	}
}

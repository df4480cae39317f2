package transportrpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/lumen-data/firestream/internal/transport"
)

// DialGRPC opens the shared *grpc.ClientConn a GRPCTransport and
// GRPCUnaryTransport are built on top of. Keepalive timings reuse
// internal/transport.Config's HTTP/2 tuning, the single source of truth
// for stream liveness settings.
func DialGRPC(host string, ssl bool) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if ssl {
		creds = credentials.NewClientTLSFromCert(nil, "")
	} else {
		creds = insecure.NewCredentials()
	}

	return grpc.NewClient(host,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                transport.Config.H2ReadIdleTimeout,
			Timeout:             transport.Config.H2PingTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.WaitForReady(false)),
	)
}

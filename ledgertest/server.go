package ledgertest

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/network"
)

type channel struct {
	ledger *Ledger
	node   ids.AccountID
}

func (c channel) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, grpcstatus.FromContextError(err).Err()
	}
	resp, err := c.ledger.Handle(c.node, method, req)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return resp, nil
}

func (c channel) Close() error { return nil }

// Channel returns an in process channel to the node.
func (l *Ledger) Channel(node ids.AccountID) network.Channel {
	return channel{ledger: l, node: node}
}

// Dialer resolves the addresses of a network.Config to in process channels.
func (l *Ledger) Dialer(nodes map[string]ids.AccountID) network.Dialer {
	return func(address string) (network.Channel, error) {
		node, ok := nodes[address]
		if !ok {
			return nil, grpcstatus.Errorf(codes.Unavailable, "no node at [ %s ]", address)
		}
		return l.Channel(node), nil
	}
}

// NewServer returns a gRPC server answering every route as node.
func (l *Ledger) NewServer(node ids.AccountID) *grpc.Server {
	return grpc.NewServer(
		grpc.ForceServerCodec(network.RawCodec{}),
		grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
			method, ok := grpc.MethodFromServerStream(stream)
			if !ok {
				return grpcstatus.Error(codes.Internal, "missing method")
			}
			var req []byte
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			resp, err := l.Handle(node, method, req)
			if err != nil {
				return grpcstatus.Error(codes.InvalidArgument, err.Error())
			}
			return stream.SendMsg(resp)
		}),
	)
}

// Bufconn serves node over an in memory listener and returns a dial option connecting to it
// and a stop function.
func (l *Ledger) Bufconn(node ids.AccountID) (grpc.DialOption, func()) {
	lis := bufconn.Listen(1 << 20)
	srv := l.NewServer(node)
	go srv.Serve(lis)
	dial := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return dial, srv.Stop
}

package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

var ErrRawCodec = errors.New("raw codec expects []byte or *[]byte")

// RawCodec passes already encoded protobuf messages through gRPC untouched.
// It registers under the "proto" name so the wire content type matches a protobuf service.
type RawCodec struct{}

func (RawCodec) Name() string { return "proto" }

func (RawCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *[]byte:
		return *m, nil
	default:
		return nil, errors.Join(ErrRawCodec, fmt.Errorf("got %T", v))
	}
}

func (RawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(*[]byte)
	if !ok {
		return errors.Join(ErrRawCodec, fmt.Errorf("got %T", v))
	}
	*m = append((*m)[:0], data...)
	return nil
}

// Channel is a long lived connection to one node.
type Channel interface {
	Invoke(ctx context.Context, method string, req []byte) ([]byte, error)
	Close() error
}

// Dialer creates the channel for an address. It is called at most once per address.
type Dialer func(address string) (Channel, error)

type grpcChannel struct {
	conn *grpc.ClientConn
}

func (c *grpcChannel) Invoke(ctx context.Context, method string, req []byte) ([]byte, error) {
	var resp []byte
	if err := c.conn.Invoke(ctx, method, req, &resp, grpc.ForceCodec(RawCodec{})); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *grpcChannel) Close() error {
	return c.conn.Close()
}

// NewGRPCChannel wraps an existing client connection.
func NewGRPCChannel(conn *grpc.ClientConn) Channel {
	return &grpcChannel{conn: conn}
}

// GRPCDialer returns the default dialer. Connections use TLS unless the host is loopback
// or cfg.Insecure is set, the CA file replaces system roots when given.
func GRPCDialer(cfg Config, extra ...grpc.DialOption) Dialer {
	return func(address string) (Channel, error) {
		creds, err := transportCredentials(cfg, address)
		if err != nil {
			return nil, err
		}
		opts := []grpc.DialOption{
			grpc.WithTransportCredentials(creds),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                cfg.KeepaliveTime,
				Timeout:             cfg.KeepaliveTimeout,
				PermitWithoutStream: true,
			}),
			grpc.WithConnectParams(grpc.ConnectParams{
				Backoff:           backoff.DefaultConfig,
				MinConnectTimeout: cfg.ConnectTimeout,
			}),
		}
		opts = append(opts, extra...)
		conn, err := grpc.NewClient(address, opts...)
		if err != nil {
			return nil, errors.Join(ErrDial, err)
		}
		return &grpcChannel{conn: conn}, nil
	}
}

func transportCredentials(cfg Config, address string) (credentials.TransportCredentials, error) {
	if cfg.Insecure || isLoopback(address) {
		return insecure.NewCredentials(), nil
	}
	if cfg.CACertFile != "" {
		creds, err := credentials.NewClientTLSFromFile(cfg.CACertFile, cfg.ServerNameOverride)
		if err != nil {
			return nil, errors.Join(ErrDial, err)
		}
		return creds, nil
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.ServerNameOverride}), nil
}

func isLoopback(address string) bool {
	host := address
	if i := strings.LastIndex(address, "///"); i >= 0 {
		host = address[i+3:]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

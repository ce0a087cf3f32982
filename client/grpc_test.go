package client

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestGRPCClient_Call(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnknownServiceHandler(func(srv interface{}, stream grpc.ServerStream) error {
			var req jsonRPCRequest
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			method, _ := grpc.MethodFromServerStream(stream)
			resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}
			if method == DefaultGRPCMethod && req.Method == "eth_chainId" {
				resp.Result = []byte(`"0x14a34"`)
			} else {
				resp.Error = &RPCError{Code: -32601, Message: "method not found"}
			}
			return stream.SendMsg(&resp)
		}),
	)
	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	c, err := NewClient(&Config{Endpoint: "grpc://" + lis.Addr().String(), Timeout: 5})
	require.NoError(t, err)
	defer c.Close()

	raw, err := c.Call(context.Background(), "eth_chainId", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"0x14a34"`, string(raw))

	_, err = c.Call(context.Background(), "eth_other", nil)
	rpcErr, ok := IsRPCError(err)
	require.True(t, ok)
	assert.Equal(t, "method not found", rpcErr.Message)
}

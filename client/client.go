package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client JSON-RPC 传输客户端接口
//
// bundler、paymaster 等 ERC-4337 服务都只暴露 JSON-RPC，
// 上层服务只依赖这一个接口，具体协议（HTTP/WebSocket/gRPC）由 Config 决定。
type Client interface {
	// Call 调用 JSON-RPC 方法，返回原始 result
	// 当节点返回 JSON-RPC 错误对象时返回 *RPCError
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// Close 关闭连接
	Close() error
}

// NewClient 创建新的客户端
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	protocol := config.Protocol
	if protocol == "" {
		protocol = ProtocolFromEndpoint(config.Endpoint)
	}

	switch protocol {
	case ProtocolHTTP:
		return NewHTTPClient(config)
	case ProtocolGRPC:
		return NewGRPCClient(config)
	case ProtocolWebSocket:
		return NewWebSocketClient(config)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", protocol)
	}
}

// CallInto 调用 JSON-RPC 方法并将 result 解码到 out
// result 为 null 时 out 保持不变，返回 false
func CallInto(ctx context.Context, c Client, method string, params interface{}, out interface{}) (bool, error) {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return false, err
	}
	if isNull(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, NewInvalidResponseError(fmt.Sprintf("decode %s result: %v", method, err))
	}
	return true, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// jsonRPCRequest JSON-RPC请求结构
type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      uint64      `json:"id"`
}

// jsonRPCResponse JSON-RPC响应结构
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

func newRequest(id uint64, method string, params interface{}) *jsonRPCRequest {
	if params == nil {
		params = []interface{}{}
	}
	return &jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
}

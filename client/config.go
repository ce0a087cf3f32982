package client

import (
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// Config 客户端配置
type Config struct {
	// Endpoint 服务端点地址（bundler / paymaster URL）
	Endpoint string

	// Protocol 协议类型，为空时根据 Endpoint 推断
	Protocol Protocol

	// Timeout 超时时间（秒）
	Timeout int

	// Headers 附加的 HTTP 请求头（例如 API Key）
	Headers map[string]string

	// Retry 重试配置，nil 使用默认配置
	Retry *RetryConfig

	// GRPCMethod gRPC 传输使用的完整方法名
	GRPCMethod string

	// 调试模式
	Debug bool

	// 日志器（可选）
	Logger Logger
}

// Protocol 协议类型
type Protocol string

const (
	ProtocolHTTP      Protocol = "http"
	ProtocolGRPC      Protocol = "grpc"
	ProtocolWebSocket Protocol = "websocket"
)

// Logger 日志接口
// go-ethereum 的 log.Logger 满足该接口
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "http://localhost:4337",
		Protocol: ProtocolHTTP,
		Timeout:  30,
		Debug:    false,
	}
}

// DefaultLogger 返回带模块标签的 go-ethereum 日志器
func DefaultLogger(module string) Logger {
	return log.New("module", module)
}

// ProtocolFromEndpoint 根据 URL scheme 推断协议
func ProtocolFromEndpoint(endpoint string) Protocol {
	e := strings.ToLower(strings.TrimSpace(endpoint))
	switch {
	case strings.HasPrefix(e, "ws://"), strings.HasPrefix(e, "wss://"):
		return ProtocolWebSocket
	case strings.HasPrefix(e, "grpc://"):
		return ProtocolGRPC
	default:
		return ProtocolHTTP
	}
}

func (c *Config) logger(module string) Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return DefaultLogger(module)
}

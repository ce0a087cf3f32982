package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// websocketClient WebSocket 客户端实现
type websocketClient struct {
	endpoint string
	conn     *websocket.Conn
	mu       sync.Mutex // 保护写操作，gorilla 连接不支持并发写
	closed   int32
	nextID   uint64
	requests map[uint64]chan *jsonRPCResponse
	muReq    sync.Mutex
	timeout  time.Duration
	logger   Logger
	debug    bool
}

// NewWebSocketClient 创建 WebSocket 客户端
func NewWebSocketClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	endpoint := websocketEndpoint(config.Endpoint)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("dial websocket: %w", err))
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := &websocketClient{
		endpoint: endpoint,
		conn:     conn,
		requests: make(map[uint64]chan *jsonRPCResponse),
		timeout:  timeout,
		logger:   config.logger("jsonrpc-ws"),
		debug:    config.Debug,
	}

	// 启动消息读取循环
	go client.readLoop()

	return client, nil
}

// websocketEndpoint 将 http:// 或 https:// 转换为 ws:// 或 wss://
func websocketEndpoint(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return endpoint
	default:
		return "ws://" + endpoint
	}
}

// readLoop 消息读取循环
func (c *websocketClient) readLoop() {
	defer c.failPending()

	for {
		var resp jsonRPCResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			if atomic.LoadInt32(&c.closed) == 0 {
				c.logger.Warn("WebSocket read failed", "endpoint", c.endpoint, "error", err)
			}
			return
		}

		c.muReq.Lock()
		ch, exists := c.requests[resp.ID]
		if exists {
			delete(c.requests, resp.ID)
		}
		c.muReq.Unlock()

		if exists {
			ch <- &resp
		}
	}
}

// Call 调用 JSON-RPC 方法
func (c *websocketClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, NewNetworkError(fmt.Errorf("websocket client is closed"))
	}

	reqID := atomic.AddUint64(&c.nextID, 1)
	req := newRequest(reqID, method, params)

	respCh, ok := c.register(reqID)
	if !ok {
		return nil, NewNetworkError(fmt.Errorf("websocket client is closed"))
	}

	if c.debug {
		c.logger.Debug("JSON-RPC request", "method", method, "id", reqID)
	}

	c.mu.Lock()
	err := c.conn.WriteJSON(req)
	c.mu.Unlock()
	if err != nil {
		c.forget(reqID)
		return nil, NewNetworkError(fmt.Errorf("write request: %w", err))
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok || resp == nil {
			return nil, NewNetworkError(fmt.Errorf("connection closed before response"))
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil

	case <-ctx.Done():
		c.forget(reqID)
		return nil, ctx.Err()

	case <-timer.C:
		c.forget(reqID)
		return nil, NewTimeoutError()
	}
}

// failPending 标记连接关闭并结束所有等待中的请求
func (c *websocketClient) failPending() {
	c.muReq.Lock()
	defer c.muReq.Unlock()
	atomic.StoreInt32(&c.closed, 1)
	for id, ch := range c.requests {
		close(ch)
		delete(c.requests, id)
	}
}

// register 登记等待响应的请求；closed 在 muReq 下检查，与 failPending 互斥
func (c *websocketClient) register(id uint64) (chan *jsonRPCResponse, bool) {
	c.muReq.Lock()
	defer c.muReq.Unlock()
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, false
	}
	// 带缓冲，readLoop 不会阻塞
	ch := make(chan *jsonRPCResponse, 1)
	c.requests[id] = ch
	return ch, true
}

func (c *websocketClient) forget(id uint64) {
	c.muReq.Lock()
	delete(c.requests, id)
	c.muReq.Unlock()
}

// Close 关闭连接
func (c *websocketClient) Close() error {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.conn.Close()
	}
	return nil
}

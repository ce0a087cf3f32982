package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// httpClient HTTP客户端实现
type httpClient struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	logger   Logger
	debug    bool
	nextID   atomic.Uint64
	retry    *RetryConfig
}

// NewHTTPClient 创建HTTP客户端
func NewHTTPClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("http client: endpoint is required")
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := config.logger("jsonrpc-http")

	retryConfig := config.Retry
	if retryConfig == nil {
		retryConfig = DefaultRetryConfig()
		if config.Debug {
			retryConfig.OnRetry = func(attempt int, err error) {
				logger.Warn("Retrying request", "attempt", attempt, "error", err)
			}
		}
	}

	return &httpClient{
		endpoint: config.Endpoint,
		client:   &http.Client{Timeout: timeout},
		headers:  config.Headers,
		logger:   logger,
		debug:    config.Debug,
		retry:    retryConfig,
	}, nil
}

// Call 调用JSON-RPC方法
func (c *httpClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := newRequest(c.nextID.Add(1), method, params)

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	if c.debug {
		c.logger.Debug("JSON-RPC request", "method", method, "body", string(reqBody))
	}

	// 每次重试都创建新的请求（Body 只能读取一次）
	var resp *http.Response
	err = withRetry(ctx, func() error {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
		if reqErr != nil {
			return fmt.Errorf("create request failed: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			httpReq.Header.Set(k, v)
		}

		httpResp, reqErr := c.client.Do(httpReq)
		if reqErr != nil {
			return NewNetworkError(reqErr)
		}

		if isRetryableHTTPError(httpResp.StatusCode) {
			httpResp.Body.Close()
			return fmt.Errorf("HTTP error: %d", httpResp.StatusCode)
		}

		resp = httpResp
		return nil
	}, c.retry)
	if err != nil {
		return nil, fmt.Errorf("send request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(fmt.Errorf("read response failed: %w", err))
	}

	if c.debug {
		c.logger.Debug("JSON-RPC response", "status", resp.StatusCode, "body", string(respBody))
	}

	// 部分 bundler 在 4xx 响应体中携带 JSON-RPC 错误对象，优先解析
	var jsonResp jsonRPCResponse
	decodeErr := json.Unmarshal(respBody, &jsonResp)
	if decodeErr == nil && jsonResp.Error != nil {
		return nil, jsonResp.Error
	}

	if resp.StatusCode != http.StatusOK {
		return nil, NewInvalidResponseError(fmt.Sprintf("HTTP error: %d, body: %s", resp.StatusCode, string(respBody)))
	}
	if decodeErr != nil {
		return nil, NewInvalidResponseError(fmt.Sprintf("unmarshal response failed: %v", decodeErr))
	}

	return jsonResp.Result, nil
}

// Close 关闭连接（HTTP客户端无需特殊处理）
func (c *httpClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

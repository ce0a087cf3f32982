// Package paymaster ERC-7677 paymaster 客户端
package paymaster

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/weisyn/subaccount-sdk-go/client"
	"github.com/weisyn/subaccount-sdk-go/types"
)

// JSON-RPC 方法
const (
	MethodGetPaymasterStubData = "pm_getPaymasterStubData"
	MethodGetPaymasterData     = "pm_getPaymasterData"
)

// Request paymaster 请求
type Request struct {
	UserOperation *types.UserOperation
	EntryPoint    common.Address
	ChainID       *big.Int
	// Context 调用方透传给 paymaster 的策略数据，可为 nil
	Context map[string]interface{}
}

// Sponsor 赞助方信息
type Sponsor struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Response paymaster 响应（EntryPoint v0.6 格式）
type Response struct {
	PaymasterAndData hexutil.Bytes `json:"paymasterAndData"`
	Sponsor          *Sponsor      `json:"sponsor,omitempty"`
	// IsFinal 为 true 时 stub 数据即最终数据，无需再调用 pm_getPaymasterData
	IsFinal bool `json:"isFinal,omitempty"`
}

// Client paymaster 客户端
type Client struct {
	rpc     client.Client
	context map[string]interface{}
}

// New 基于已有传输客户端创建 paymaster 客户端
// defaultContext 在请求未携带 Context 时使用
func New(rpc client.Client, defaultContext map[string]interface{}) *Client {
	return &Client{rpc: rpc, context: defaultContext}
}

// NewFromURL 根据 URL 创建 paymaster 客户端，协议由 URL scheme 推断
func NewFromURL(url string, defaultContext map[string]interface{}) (*Client, error) {
	if url == "" {
		return nil, errors.New("paymaster: url is required")
	}
	cfg := client.DefaultConfig()
	cfg.Endpoint = url
	cfg.Protocol = ""
	rpc, err := client.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("paymaster: %w", err)
	}
	return New(rpc, defaultContext), nil
}

// GetPaymasterStubData 获取用于 gas 估算的 stub 数据
func (c *Client) GetPaymasterStubData(ctx context.Context, req Request) (*Response, error) {
	return c.call(ctx, MethodGetPaymasterStubData, req)
}

// GetPaymasterData 获取最终的 paymasterAndData
func (c *Client) GetPaymasterData(ctx context.Context, req Request) (*Response, error) {
	return c.call(ctx, MethodGetPaymasterData, req)
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) call(ctx context.Context, method string, req Request) (*Response, error) {
	if req.UserOperation == nil {
		return nil, fmt.Errorf("%s: user operation is required", method)
	}
	if req.ChainID == nil {
		return nil, fmt.Errorf("%s: chain id is required", method)
	}

	pmContext := req.Context
	if pmContext == nil {
		pmContext = c.context
	}
	if pmContext == nil {
		pmContext = map[string]interface{}{}
	}

	params := []interface{}{
		req.UserOperation,
		req.EntryPoint,
		(*hexutil.Big)(req.ChainID),
		pmContext,
	}

	var resp Response
	ok, err := client.CallInto(ctx, c.rpc, method, params, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return &resp, nil
}

// Package bundler ERC-4337 bundler 客户端
//
// 负责把一组调用组装成用户操作（nonce、initCode、手续费、paymaster、gas 估算、签名），
// 提交到 bundler，并轮询用户操作回执。
package bundler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/time/rate"

	"github.com/weisyn/subaccount-sdk-go/client"
	"github.com/weisyn/subaccount-sdk-go/services/paymaster"
	"github.com/weisyn/subaccount-sdk-go/types"
)

// JSON-RPC 方法
const (
	MethodEstimateUserOperationGas = "eth_estimateUserOperationGas"
	MethodSendUserOperation        = "eth_sendUserOperation"
	MethodGetUserOperationReceipt  = "eth_getUserOperationReceipt"
)

// 默认轮询参数
const (
	DefaultPollInterval   = time.Second
	DefaultReceiptTimeout = 3 * time.Minute
)

// ErrReceiptTimeout 等待回执超时
var ErrReceiptTimeout = errors.New("timed out waiting for user operation receipt")

// Options bundler 客户端选项
type Options struct {
	// ChainID bundler 服务的链
	ChainID *big.Int
	// FeeEstimator 手续费来源，通常是同链的 *ethclient.Client
	FeeEstimator FeeEstimator
	// PollInterval 回执轮询间隔
	PollInterval time.Duration
	// ReceiptTimeout 等待回执的最长时间
	ReceiptTimeout time.Duration
	Logger         client.Logger
}

// Client bundler 客户端，可并发使用
type Client struct {
	rpc            client.Client
	chainID        *big.Int
	fees           FeeEstimator
	pollInterval   time.Duration
	receiptTimeout time.Duration
	logger         client.Logger
}

// New 创建 bundler 客户端
func New(rpc client.Client, opts Options) (*Client, error) {
	if rpc == nil {
		return nil, errors.New("bundler: rpc client is required")
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, errors.New("bundler: chain id is required")
	}
	if opts.FeeEstimator == nil {
		return nil, errors.New("bundler: fee estimator is required")
	}

	c := &Client{
		rpc:            rpc,
		chainID:        new(big.Int).Set(opts.ChainID),
		fees:           opts.FeeEstimator,
		pollInterval:   opts.PollInterval,
		receiptTimeout: opts.ReceiptTimeout,
		logger:         opts.Logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.receiptTimeout <= 0 {
		c.receiptTimeout = DefaultReceiptTimeout
	}
	if c.logger == nil {
		c.logger = client.DefaultLogger("bundler")
	}
	return c, nil
}

// ChainID bundler 服务的链
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close 关闭底层连接
func (c *Client) Close() error {
	return c.rpc.Close()
}

// SendUserOperation 组装、签名并提交用户操作，返回 userOpHash
// pm 为 nil 时不使用 paymaster
func (c *Client) SendUserOperation(ctx context.Context, account SmartAccount, calls []types.Call, pm Paymaster) (common.Hash, error) {
	op, err := c.PrepareUserOperation(ctx, account, calls, pm)
	if err != nil {
		return common.Hash{}, err
	}

	sig, err := account.SignUserOperation(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	op.Signature = sig

	var hash common.Hash
	ok, err := client.CallInto(ctx, c.rpc, MethodSendUserOperation, []interface{}{op, account.EntryPoint()}, &hash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", MethodSendUserOperation, err)
	}
	if !ok {
		return common.Hash{}, fmt.Errorf("%s: empty result", MethodSendUserOperation)
	}

	c.logger.Info("User operation submitted", "sender", account.Address(), "calls", len(calls), "userOpHash", hash)
	return hash, nil
}

// PrepareUserOperation 组装未签名的用户操作（gas 字段与 paymasterAndData 已填好）
func (c *Client) PrepareUserOperation(ctx context.Context, account SmartAccount, calls []types.Call, pm Paymaster) (*types.UserOperation, error) {
	callData, err := account.EncodeCalls(calls)
	if err != nil {
		return nil, err
	}
	nonce, err := account.GetNonce(ctx)
	if err != nil {
		return nil, err
	}
	initCode, err := account.InitCode(ctx)
	if err != nil {
		return nil, err
	}
	maxFee, tip, err := c.estimateFees(ctx)
	if err != nil {
		return nil, err
	}
	stub, err := account.StubSignature()
	if err != nil {
		return nil, err
	}

	op := &types.UserOperation{
		Sender:               account.Address(),
		Nonce:                (*hexutil.Big)(nonce),
		InitCode:             initCode,
		CallData:             callData,
		CallGasLimit:         new(hexutil.Big),
		VerificationGasLimit: new(hexutil.Big),
		PreVerificationGas:   new(hexutil.Big),
		MaxFeePerGas:         (*hexutil.Big)(maxFee),
		MaxPriorityFeePerGas: (*hexutil.Big)(tip),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            stub,
	}

	var stubResp *paymaster.Response
	if pm != nil {
		stubResp, err = pm.GetPaymasterStubData(ctx, c.paymasterRequest(op, account))
		if err != nil {
			return nil, err
		}
		op.PaymasterAndData = stubResp.PaymasterAndData
	}

	gas, err := c.EstimateUserOperationGas(ctx, op, account.EntryPoint())
	if err != nil {
		return nil, err
	}
	op.CallGasLimit = gas.CallGasLimit
	op.VerificationGasLimit = gas.VerificationGasLimit
	op.PreVerificationGas = gas.PreVerificationGas

	if pm != nil && !stubResp.IsFinal {
		final, err := pm.GetPaymasterData(ctx, c.paymasterRequest(op, account))
		if err != nil {
			return nil, err
		}
		op.PaymasterAndData = final.PaymasterAndData
	}

	c.logger.Debug("User operation prepared",
		"sender", op.Sender,
		"nonce", nonce,
		"deploy", len(initCode) > 0,
		"sponsored", len(op.PaymasterAndData) > 0,
	)
	return op, nil
}

// EstimateUserOperationGas 调用 eth_estimateUserOperationGas
func (c *Client) EstimateUserOperationGas(ctx context.Context, op *types.UserOperation, entryPoint common.Address) (*GasEstimate, error) {
	var est GasEstimate
	ok, err := client.CallInto(ctx, c.rpc, MethodEstimateUserOperationGas, []interface{}{op, entryPoint}, &est)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodEstimateUserOperationGas, err)
	}
	if !ok || est.CallGasLimit == nil || est.VerificationGasLimit == nil || est.PreVerificationGas == nil {
		return nil, fmt.Errorf("%s: incomplete gas estimate", MethodEstimateUserOperationGas)
	}
	return &est, nil
}

// GetUserOperationReceipt 查询用户操作回执，尚未打包时返回 nil, nil
func (c *Client) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt UserOperationReceipt
	ok, err := client.CallInto(ctx, c.rpc, MethodGetUserOperationReceipt, []interface{}{hash}, &receipt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", MethodGetUserOperationReceipt, err)
	}
	if !ok {
		return nil, nil
	}
	return &receipt, nil
}

// WaitForUserOperationReceipt 轮询直到回执可用
// 超过 ReceiptTimeout 返回 ErrReceiptTimeout；ctx 取消时返回 ctx 的错误
func (c *Client) WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, hash.Hex(), c.receiptTimeout)
		}

		receipt, err := c.GetUserOperationReceipt(waitCtx, hash)
		if err != nil {
			if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, hash.Hex(), c.receiptTimeout)
			}
			return nil, err
		}
		if receipt != nil {
			c.logger.Info("User operation included",
				"userOpHash", hash,
				"txHash", receipt.Receipt.TransactionHash,
				"success", receipt.Success,
				"attempts", attempt,
			)
			return receipt, nil
		}
	}
}

// estimateFees maxFee = baseFee * 1.2 + tip；链不支持 EIP-1559 时 maxFee = tip
func (c *Client) estimateFees(ctx context.Context) (maxFee, tip *big.Int, err error) {
	tip, err = c.fees.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest gas tip cap: %w", err)
	}
	head, err := c.fees.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("get latest header: %w", err)
	}

	maxFee = new(big.Int).Set(tip)
	if head.BaseFee != nil {
		buffered := new(big.Int).Mul(head.BaseFee, big.NewInt(12))
		buffered.Div(buffered, big.NewInt(10))
		maxFee.Add(maxFee, buffered)
	}
	return maxFee, tip, nil
}

func (c *Client) paymasterRequest(op *types.UserOperation, account SmartAccount) paymaster.Request {
	return paymaster.Request{
		UserOperation: op,
		EntryPoint:    account.EntryPoint(),
		ChainID:       c.chainID,
	}
}

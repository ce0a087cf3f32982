// Package chains 按链 ID 管理链上查询客户端与 bundler 客户端
package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/weisyn/subaccount-sdk-go/client"
	"github.com/weisyn/subaccount-sdk-go/config"
	"github.com/weisyn/subaccount-sdk-go/services/bundler"
	"github.com/weisyn/subaccount-sdk-go/services/smartaccount"
	"github.com/weisyn/subaccount-sdk-go/types"
)

// Client 链上只读查询与手续费估算，*ethclient.Client 满足该接口
type Client interface {
	smartaccount.ChainClient
	bundler.FeeEstimator
}

// Bundler 用户操作提交，*bundler.Client 满足该接口
type Bundler interface {
	SendUserOperation(ctx context.Context, account bundler.SmartAccount, calls []types.Call, pm bundler.Paymaster) (common.Hash, error)
	WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error)
}

// Chain 单条链的协作方
type Chain struct {
	ID      uint64
	Client  Client
	Bundler Bundler
	// EntryPoint 零值表示使用默认 EntryPoint
	EntryPoint common.Address
}

// Registry 链注册表，可并发使用
type Registry struct {
	mu      sync.RWMutex
	chains  map[uint64]Chain
	closers []func() error
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{chains: make(map[uint64]Chain)}
}

// Register 注册或替换一条链
func (r *Registry) Register(c Chain) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[c.ID] = c
}

// Chain 查找链
func (r *Registry) Chain(chainID uint64) (Chain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	return c, ok
}

// Client 查找链上查询客户端
func (r *Registry) Client(chainID uint64) (Client, bool) {
	c, ok := r.Chain(chainID)
	if !ok || c.Client == nil {
		return nil, false
	}
	return c.Client, true
}

// Bundler 查找 bundler 客户端
func (r *Registry) Bundler(chainID uint64) (Bundler, bool) {
	c, ok := r.Chain(chainID)
	if !ok || c.Bundler == nil {
		return nil, false
	}
	return c.Bundler, true
}

// EntryPoint 链使用的 EntryPoint，未配置返回零地址
func (r *Registry) EntryPoint(chainID uint64) common.Address {
	c, _ := r.Chain(chainID)
	return c.EntryPoint
}

// Close 关闭 Dial 打开的所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) onClose(fn func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, fn)
}

// Dial 按配置连接所有链，并校验节点返回的链 ID 与配置一致
func Dial(ctx context.Context, cfg *config.Config, logger client.Logger) (*Registry, error) {
	if logger == nil {
		logger = client.DefaultLogger("chains")
	}
	r := NewRegistry()

	for _, ch := range cfg.Chains {
		c, err := r.dialChain(ctx, cfg, ch, logger)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.Register(c)
		logger.Info("Chain connected", "chainId", ch.ID, "rpc", ch.RPCURL, "bundler", ch.BundlerURL)
	}
	return r, nil
}

func (r *Registry) dialChain(ctx context.Context, cfg *config.Config, ch config.ChainConfig, logger client.Logger) (Chain, error) {
	ec, err := ethclient.DialContext(ctx, ch.RPCURL)
	if err != nil {
		return Chain{}, fmt.Errorf("chain %d: dial rpc: %w", ch.ID, err)
	}
	r.onClose(func() error {
		ec.Close()
		return nil
	})

	remoteID, err := ec.ChainID(ctx)
	if err != nil {
		return Chain{}, fmt.Errorf("chain %d: query chain id: %w", ch.ID, err)
	}
	chainID := new(big.Int).SetUint64(ch.ID)
	if remoteID.Cmp(chainID) != 0 {
		return Chain{}, fmt.Errorf("chain %d: rpc %s reports chain id %s", ch.ID, ch.RPCURL, remoteID)
	}

	rpc, err := client.NewClient(ch.BundlerClientConfig(cfg.Debug))
	if err != nil {
		return Chain{}, fmt.Errorf("chain %d: bundler client: %w", ch.ID, err)
	}
	r.onClose(rpc.Close)

	b, err := bundler.New(rpc, bundler.Options{
		ChainID:        chainID,
		FeeEstimator:   ec,
		PollInterval:   cfg.Signer.ReceiptPollInterval,
		ReceiptTimeout: cfg.Signer.ReceiptTimeout,
		Logger:         logger,
	})
	if err != nil {
		return Chain{}, fmt.Errorf("chain %d: %w", ch.ID, err)
	}

	return Chain{
		ID:         ch.ID,
		Client:     ec,
		Bundler:    b,
		EntryPoint: ch.EntryPointAddress(),
	}, nil
}

// Package signer 子账户委托签名器
//
// CreateSubAccountSigner 根据会话状态（子账户、owner、链）构造绑定到某个 owner 槽位的签名器，
// 签名器的 Request 按方法名把钱包 provider 请求分派给本地应答、签名或用户操作提交。
package signer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/subaccount-sdk-go/chains"
	"github.com/weisyn/subaccount-sdk-go/client"
	"github.com/weisyn/subaccount-sdk-go/metrics"
	"github.com/weisyn/subaccount-sdk-go/services/bundler"
	"github.com/weisyn/subaccount-sdk-go/services/paymaster"
	"github.com/weisyn/subaccount-sdk-go/services/smartaccount"
	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

// DefaultOwnerIndex 账户未部署时使用的 owner 槽位
const DefaultOwnerIndex uint64 = 1

// ChainProvider 按链 ID 提供协作方，*chains.Registry 满足该接口
type ChainProvider interface {
	Client(chainID uint64) (chains.Client, bool)
	Bundler(chainID uint64) (chains.Bundler, bool)
	EntryPoint(chainID uint64) common.Address
}

// Store 会话状态的只读视图，*store.MemoryStore 满足该接口
type Store interface {
	SubAccount() *types.SubAccount
	ToSubAccountSigner() wallet.OwnerFunc
	SpendPermission() *types.SignedSpendPermission
}

// Session 构造签名器所需的上下文
type Session struct {
	ChainID uint64
	Chains  ChainProvider
	Store   Store
}

// PaymasterFactory 根据请求中的 paymasterService 能力创建 paymaster
type PaymasterFactory func(url string, context map[string]interface{}) (bundler.Paymaster, error)

type options struct {
	defaultOwnerIndex uint64
	logger            client.Logger
	metrics           *metrics.Recorder
	paymasterFactory  PaymasterFactory
}

// Option 签名器选项
type Option func(*options)

// WithDefaultOwnerIndex 设置账户未部署时使用的 owner 槽位
func WithDefaultOwnerIndex(index uint64) Option {
	return func(o *options) { o.defaultOwnerIndex = index }
}

// WithLogger 设置日志器
func WithLogger(logger client.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics 设置指标记录器
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *options) { o.metrics = m }
}

// WithPaymasterFactory 替换 paymaster 构造方式
func WithPaymasterFactory(f PaymasterFactory) Option {
	return func(o *options) { o.paymasterFactory = f }
}

func defaultPaymasterFactory(url string, context map[string]interface{}) (bundler.Paymaster, error) {
	pm, err := paymaster.NewFromURL(url, context)
	if err != nil {
		return nil, err
	}
	return pm, nil
}

// SubAccountSigner 绑定到子账户某个 owner 槽位的签名器
// 构造后不可变，可并发调用 Request
type SubAccountSigner struct {
	chainID    uint64
	subAccount *types.SubAccount
	account    *smartaccount.Account
	chains     ChainProvider
	store      Store
	opts       options
	handlers   map[string]handlerFunc
}

// CreateSubAccountSigner 构造子账户签名器
//
// 账户已部署时从合约中解析 owner 所在槽位；未部署时使用默认槽位（见 WithDefaultOwnerIndex），
// 并要求子账户带有 factoryData。
func CreateSubAccountSigner(ctx context.Context, session Session, opts ...Option) (*SubAccountSigner, error) {
	o := options{
		defaultOwnerIndex: DefaultOwnerIndex,
		paymasterFactory:  defaultPaymasterFactory,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = client.DefaultLogger("signer")
	}

	if session.Chains == nil {
		return nil, types.NewNotFoundError("client")
	}
	chainClient, ok := session.Chains.Client(session.ChainID)
	if !ok {
		return nil, types.NewNotFoundError("client")
	}
	if session.Store == nil {
		return nil, types.NewNotFoundError("subaccount")
	}
	sub := session.Store.SubAccount()
	if sub == nil {
		return nil, types.NewNotFoundError("subaccount")
	}
	ownerFunc := session.Store.ToSubAccountSigner()
	if ownerFunc == nil {
		return nil, types.NewNotFoundError("toSubAccountSigner")
	}

	owner, err := ownerFunc(ctx)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, types.NewNotFoundError("signer")
	}

	deployed, err := smartaccount.IsDeployed(ctx, chainClient, sub.Address)
	if err != nil {
		return nil, err
	}

	index := o.defaultOwnerIndex
	if deployed {
		ownerID := owner.PublicKey()
		if len(ownerID) == 0 {
			ownerID = owner.Address().Bytes()
		}
		index, err = smartaccount.ResolveOwnerIndex(ctx, chainClient, sub.Address, ownerID)
		if err != nil {
			return nil, err
		}
	} else if len(sub.FactoryData) == 0 {
		return nil, types.NewNotFoundError("factory data")
	}

	var factory common.Address
	if sub.Factory != nil {
		factory = *sub.Factory
	}
	account, err := smartaccount.New(smartaccount.Config{
		Owner:       owner,
		OwnerIndex:  index,
		Address:     sub.Address,
		Client:      chainClient,
		ChainID:     chainIDBig(session.ChainID),
		Factory:     factory,
		FactoryData: sub.FactoryData,
		EntryPoint:  session.Chains.EntryPoint(session.ChainID),
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("Sub account signer created",
		"chainId", session.ChainID,
		"account", sub.Address,
		"owner", owner.Address(),
		"ownerIndex", index,
		"deployed", deployed,
	)

	s := &SubAccountSigner{
		chainID:    session.ChainID,
		subAccount: sub,
		account:    account,
		chains:     session.Chains,
		store:      session.Store,
		opts:       o,
	}
	s.handlers = s.handlerTable()
	return s, nil
}

// Address 子账户地址
func (s *SubAccountSigner) Address() common.Address { return s.subAccount.Address }

// ChainID 签名器绑定的链
func (s *SubAccountSigner) ChainID() uint64 { return s.chainID }

// OwnerIndex 签名使用的 owner 槽位
func (s *SubAccountSigner) OwnerIndex() uint64 { return s.account.OwnerIndex() }

// Account 底层智能账户句柄
func (s *SubAccountSigner) Account() *smartaccount.Account { return s.account }

// Request 处理一次 provider 请求
func (s *SubAccountSigner) Request(ctx context.Context, args RequestArguments) (result interface{}, err error) {
	start := time.Now()
	h, ok := s.handlers[args.Method]
	label := args.Method
	if !ok {
		label = "unsupported"
	}
	defer func() {
		s.opts.metrics.ObserveRequest(label, err, time.Since(start))
		if err != nil {
			s.opts.logger.Debug("Request failed", "method", args.Method, "err", err)
		}
	}()

	if !ok {
		return nil, types.NewMethodNotSupportedError(args.Method)
	}
	s.opts.logger.Debug("Dispatching request", "method", args.Method, "params", len(args.Params))
	return h(ctx, args.Params)
}

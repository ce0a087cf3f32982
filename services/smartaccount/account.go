package smartaccount

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

// Config 智能账户句柄配置
type Config struct {
	// Owner 控制账户的所有者凭证
	Owner wallet.Owner
	// OwnerIndex Owner 在合约中登记的槽位
	OwnerIndex uint64
	// Address 账户地址
	Address common.Address
	// Client 链上只读查询
	Client ChainClient
	// ChainID 账户所在链
	ChainID *big.Int
	// Factory 账户工厂，零值使用 DefaultFactory
	Factory common.Address
	// FactoryData 部署数据，账户部署前必需
	FactoryData []byte
	// EntryPoint 零值使用 DefaultEntryPoint
	EntryPoint common.Address
}

// Account 绑定到某个 owner 槽位的智能账户句柄
// 构造后不可变，可并发使用
type Account struct {
	owner       wallet.Owner
	ownerIndex  uint64
	address     common.Address
	client      ChainClient
	chainID     *big.Int
	factory     common.Address
	factoryData []byte
	entryPoint  common.Address
}

// New 创建智能账户句柄
func New(cfg Config) (*Account, error) {
	if cfg.Owner == nil {
		return nil, errors.New("smartaccount: owner is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("smartaccount: chain client is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("smartaccount: chain id is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("smartaccount: address is required")
	}

	factory := cfg.Factory
	if factory == (common.Address{}) {
		factory = DefaultFactory
	}
	entryPoint := cfg.EntryPoint
	if entryPoint == (common.Address{}) {
		entryPoint = DefaultEntryPoint
	}

	return &Account{
		owner:       cfg.Owner,
		ownerIndex:  cfg.OwnerIndex,
		address:     cfg.Address,
		client:      cfg.Client,
		chainID:     new(big.Int).Set(cfg.ChainID),
		factory:     factory,
		factoryData: append([]byte{}, cfg.FactoryData...),
		entryPoint:  entryPoint,
	}, nil
}

// Address 账户地址
func (a *Account) Address() common.Address { return a.address }

// OwnerIndex 签名使用的 owner 槽位
func (a *Account) OwnerIndex() uint64 { return a.ownerIndex }

// Owner 所有者凭证
func (a *Account) Owner() wallet.Owner { return a.owner }

// EntryPoint EntryPoint 地址
func (a *Account) EntryPoint() common.Address { return a.entryPoint }

// ChainID 链 ID
func (a *Account) ChainID() *big.Int { return new(big.Int).Set(a.chainID) }

// IsDeployed 查询账户是否已部署
func (a *Account) IsDeployed(ctx context.Context) (bool, error) {
	return IsDeployed(ctx, a.client, a.address)
}

// InitCode 账户未部署时返回 factory ++ factoryData，已部署返回 nil
func (a *Account) InitCode(ctx context.Context) ([]byte, error) {
	deployed, err := a.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if deployed {
		return nil, nil
	}
	if len(a.factoryData) == 0 {
		return nil, fmt.Errorf("account %s is not deployed and has no factory data", a.address.Hex())
	}
	initCode := make([]byte, 0, common.AddressLength+len(a.factoryData))
	initCode = append(initCode, a.factory.Bytes()...)
	return append(initCode, a.factoryData...), nil
}

// EncodeCalls 编码账户执行数据：单个调用用 execute，多个调用用 executeBatch
func (a *Account) EncodeCalls(calls []types.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, errors.New("smartaccount: no calls to encode")
	case 1:
		c := calls[0]
		return WalletABI.Pack("execute", c.To, c.ValueOrZero(), []byte(c.Data))
	default:
		batch := make([]executeCall, len(calls))
		for i, c := range calls {
			batch[i] = executeCall{Target: c.To, Value: c.ValueOrZero(), Data: []byte(c.Data)}
		}
		return WalletABI.Pack("executeBatch", batch)
	}
}

// GetNonce 从 EntryPoint 读取 key 0 的 nonce
func (a *Account) GetNonce(ctx context.Context) (*big.Int, error) {
	data, err := EntryPointABI.Pack("getNonce", a.address, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("pack getNonce: %w", err)
	}
	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{To: &a.entryPoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getNonce: %w", err)
	}
	out, err := EntryPointABI.Unpack("getNonce", raw)
	if err != nil {
		return nil, fmt.Errorf("unpack getNonce: %w", err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result %T", out[0])
	}
	return nonce, nil
}

// StubSignature gas 估算用的占位签名
func (a *Account) StubSignature() ([]byte, error) {
	return WrapSignature(a.ownerIndex, dummyECDSASignature)
}

// SignUserOperation owner 直接签名 userOpHash 并包装 owner 槽位
func (a *Account) SignUserOperation(ctx context.Context, op *types.UserOperation) ([]byte, error) {
	hash, err := op.Hash(a.entryPoint, a.chainID)
	if err != nil {
		return nil, fmt.Errorf("hash user operation: %w", err)
	}
	sig, err := a.owner.SignHash(hash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sign user operation: %w", err)
	}
	return WrapSignature(a.ownerIndex, sig)
}

// SignMessage EIP-191 消息签名（personal_sign）
func (a *Account) SignMessage(ctx context.Context, message []byte) ([]byte, error) {
	return a.signReplaySafe(ctx, accounts.TextHash(message))
}

// SignTypedData EIP-712 签名（eth_signTypedData_v4）
func (a *Account) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return a.signReplaySafe(ctx, hash)
}

// signReplaySafe 签名防重放哈希；账户未部署时追加 ERC-6492 包装
func (a *Account) signReplaySafe(ctx context.Context, hash []byte) ([]byte, error) {
	safeHash, err := ReplaySafeHash(a.chainID, a.address, hash)
	if err != nil {
		return nil, err
	}
	sig, err := a.owner.SignHash(safeHash)
	if err != nil {
		return nil, fmt.Errorf("sign replay-safe hash: %w", err)
	}
	wrapped, err := WrapSignature(a.ownerIndex, sig)
	if err != nil {
		return nil, err
	}

	deployed, err := a.IsDeployed(ctx)
	if err != nil {
		return nil, err
	}
	if deployed {
		return wrapped, nil
	}
	if len(a.factoryData) == 0 {
		return nil, fmt.Errorf("account %s is not deployed and has no factory data", a.address.Hex())
	}
	return WrapERC6492(a.factory, a.factoryData, wrapped)
}

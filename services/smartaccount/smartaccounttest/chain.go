// Package smartaccounttest 提供响应智能钱包与 EntryPoint 只读调用的内存链桩，供测试使用。
package smartaccounttest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/weisyn/subaccount-sdk-go/services/smartaccount"
)

// ChainStub 内存链桩
type ChainStub struct {
	mu      sync.Mutex
	code    map[common.Address][]byte
	owners  map[common.Address][][]byte
	nonces  map[common.Address]*big.Int
	TipCap  *big.Int
	BaseFee *big.Int

	// CodeErr / CallErr 非空时对应查询直接返回该错误
	CodeErr error
	CallErr error

	codeQueries int
}

// NewChainStub 创建空链桩
func NewChainStub() *ChainStub {
	return &ChainStub{
		code:    make(map[common.Address][]byte),
		owners:  make(map[common.Address][][]byte),
		nonces:  make(map[common.Address]*big.Int),
		TipCap:  big.NewInt(1_000_000),
		BaseFee: big.NewInt(10_000_000),
	}
}

// AddressOwner 地址 owner 在合约中的存储格式
func AddressOwner(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

// Deploy 部署账户并按顺序登记 owner 槽位（nil 表示已移除的槽位）
func (s *ChainStub) Deploy(account common.Address, owners ...[]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[account] = []byte{0x60, 0x80, 0x60, 0x40}
	s.owners[account] = owners
}

// SetNonce 设置 EntryPoint nonce
func (s *ChainStub) SetNonce(account common.Address, nonce int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[account] = big.NewInt(nonce)
}

// CodeQueries 返回 CodeAt 调用次数
func (s *ChainStub) CodeQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codeQueries
}

// CodeAt 实现 smartaccount.ChainClient
func (s *ChainStub) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeQueries++
	if s.CodeErr != nil {
		return nil, s.CodeErr
	}
	return s.code[account], nil
}

// CallContract 实现 smartaccount.ChainClient
func (s *ChainStub) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if s.CallErr != nil {
		return nil, s.CallErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("invalid call")
	}

	if method, err := smartaccount.WalletABI.MethodById(msg.Data[:4]); err == nil {
		return s.callWallet(*msg.To, method, msg.Data[4:])
	}
	if method, err := smartaccount.EntryPointABI.MethodById(msg.Data[:4]); err == nil {
		return s.callEntryPoint(method, msg.Data[4:])
	}
	return nil, fmt.Errorf("execution reverted: unknown selector %x", msg.Data[:4])
}

func (s *ChainStub) callWallet(account common.Address, method *abi.Method, input []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.code[account]) == 0 {
		// 空账户上的 eth_call 返回空数据
		return nil, nil
	}
	owners := s.owners[account]

	switch method.Name {
	case "nextOwnerIndex":
		return method.Outputs.Pack(big.NewInt(int64(len(owners))))
	case "ownerAtIndex":
		args, err := method.Inputs.Unpack(input)
		if err != nil {
			return nil, err
		}
		i := args[0].(*big.Int).Int64()
		var owner []byte
		if i < int64(len(owners)) {
			owner = owners[i]
		}
		if owner == nil {
			owner = []byte{}
		}
		return method.Outputs.Pack(owner)
	default:
		return nil, fmt.Errorf("execution reverted: %s not supported by stub", method.Name)
	}
}

func (s *ChainStub) callEntryPoint(method *abi.Method, input []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args, err := method.Inputs.Unpack(input)
	if err != nil {
		return nil, err
	}
	sender := args[0].(common.Address)
	nonce := s.nonces[sender]
	if nonce == nil {
		nonce = new(big.Int)
	}
	return method.Outputs.Pack(nonce)
}

// SuggestGasTipCap 手续费估算
func (s *ChainStub) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(s.TipCap), nil
}

// HeaderByNumber 返回带 BaseFee 的区块头
func (s *ChainStub) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	var baseFee *big.Int
	if s.BaseFee != nil {
		baseFee = new(big.Int).Set(s.BaseFee)
	}
	return &gethtypes.Header{Number: big.NewInt(1), BaseFee: baseFee}, nil
}

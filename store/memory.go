// Package store 子账户会话状态的内存存储
package store

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

// MemoryStore 保存当前子账户、owner 产生函数和生效中的花费权限
// 读取返回副本，可并发使用
type MemoryStore struct {
	mu              sync.RWMutex
	subAccount      *types.SubAccount
	ownerFunc       wallet.OwnerFunc
	spendPermission *types.SignedSpendPermission
}

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SubAccount 当前子账户，未设置时返回 nil
func (s *MemoryStore) SubAccount() *types.SubAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subAccount.Clone()
}

// SetSubAccount 设置当前子账户，nil 表示清除
func (s *MemoryStore) SetSubAccount(sub *types.SubAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subAccount = sub.Clone()
}

// ToSubAccountSigner 返回 owner 产生函数，未设置时返回 nil
func (s *MemoryStore) ToSubAccountSigner() wallet.OwnerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerFunc
}

// SetToSubAccountSigner 设置 owner 产生函数
func (s *MemoryStore) SetToSubAccountSigner(fn wallet.OwnerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownerFunc = fn
}

// SpendPermission 生效中的花费权限，没有时返回 nil
func (s *MemoryStore) SpendPermission() *types.SignedSpendPermission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePermission(s.spendPermission)
}

// SetSpendPermission 设置生效中的花费权限，nil 表示清除
func (s *MemoryStore) SetSpendPermission(perm *types.SignedSpendPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spendPermission = clonePermission(perm)
}

// Reset 清空所有会话状态
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subAccount = nil
	s.ownerFunc = nil
	s.spendPermission = nil
}

func clonePermission(p *types.SignedSpendPermission) *types.SignedSpendPermission {
	if p == nil {
		return nil
	}
	out := *p
	out.Permission.Allowance = cloneBig(p.Permission.Allowance)
	out.Permission.Salt = cloneBig(p.Permission.Salt)
	out.Permission.ExtraData = append(hexutil.Bytes(nil), p.Permission.ExtraData...)
	out.Signature = append(hexutil.Bytes(nil), p.Signature...)
	return &out
}

func cloneBig(v *math.HexOrDecimal256) *math.HexOrDecimal256 {
	if v == nil {
		return nil
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set((*big.Int)(v)))
}

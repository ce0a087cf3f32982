package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
)

// SubAccount 委托控制的智能合约子账户
// FactoryData 只在部署前存在，部署后可以为空
type SubAccount struct {
	Address     common.Address  `json:"address"`
	Factory     *common.Address `json:"factory,omitempty"`
	FactoryData hexutil.Bytes   `json:"factoryData,omitempty"`
}

// Clone 返回深拷贝
func (s *SubAccount) Clone() *SubAccount {
	if s == nil {
		return nil
	}
	out := &SubAccount{Address: s.Address}
	if s.Factory != nil {
		f := *s.Factory
		out.Factory = &f
	}
	if s.FactoryData != nil {
		out.FactoryData = append(hexutil.Bytes{}, s.FactoryData...)
	}
	return out
}

// Call 一次链上调用
type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

// ValueOrZero 返回调用金额，未设置时为 0
func (c Call) ValueOrZero() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Value.ToInt())
}

// SpendPermission 花费权限结构，字段与 SpendPermissionManager.SpendPermission 一致
// 数值字段同时接受十进制和 0x 十六进制
type SpendPermission struct {
	Account   common.Address        `json:"account"`
	Spender   common.Address        `json:"spender"`
	Token     common.Address        `json:"token"`
	Allowance *math.HexOrDecimal256 `json:"allowance"`
	Period    math.HexOrDecimal64   `json:"period"`
	Start     math.HexOrDecimal64   `json:"start"`
	End       math.HexOrDecimal64   `json:"end"`
	Salt      *math.HexOrDecimal256 `json:"salt"`
	ExtraData hexutil.Bytes         `json:"extraData"`
}

// SignedSpendPermission 带授权签名的花费权限
type SignedSpendPermission struct {
	Permission SpendPermission `json:"permission"`
	Signature  hexutil.Bytes   `json:"signature"`
}

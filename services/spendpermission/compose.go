// Package spendpermission 将目标调用与花费权限的激活、记账调用组合为一个原子批次。
//
// 组合是纯编码：不签名，不访问网络。
package spendpermission

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/weisyn/subaccount-sdk-go/types"
)

// uint160 上限
var maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

// ComposeCalls 组合单个目标调用
//
// perm 为 nil 时返回 [call]；否则返回 [approveWithSignature, spend, call]，
// spend 金额等于 call 的 value，前两个调用的 value 为 0。
func ComposeCalls(call types.Call, perm *types.SignedSpendPermission) ([]types.Call, error) {
	if perm == nil {
		return []types.Call{call}, nil
	}
	prefix, err := permissionCalls(perm, call.ValueOrZero())
	if err != nil {
		return nil, err
	}
	return append(prefix, call), nil
}

// ComposeBatch 组合多个目标调用，spend 金额为所有调用 value 之和
func ComposeBatch(calls []types.Call, perm *types.SignedSpendPermission) ([]types.Call, error) {
	out := make([]types.Call, 0, len(calls)+2)
	if perm != nil {
		total := new(big.Int)
		for _, c := range calls {
			total.Add(total, c.ValueOrZero())
		}
		prefix, err := permissionCalls(perm, total)
		if err != nil {
			return nil, err
		}
		out = append(out, prefix...)
	}
	return append(out, calls...), nil
}

// EncodeApprove 编码 approveWithSignature(permission, signature)
func EncodeApprove(perm *types.SignedSpendPermission) ([]byte, error) {
	data, err := ManagerABI.Pack("approveWithSignature", toABI(perm.Permission), []byte(perm.Signature))
	if err != nil {
		return nil, fmt.Errorf("encode approveWithSignature: %w", err)
	}
	return data, nil
}

// EncodeSpend 编码 spend(permission, value)
func EncodeSpend(perm types.SpendPermission, value *big.Int) ([]byte, error) {
	if value.Sign() < 0 || value.Cmp(maxUint160) > 0 {
		return nil, fmt.Errorf("spend value %s out of uint160 range", value)
	}
	data, err := ManagerABI.Pack("spend", toABI(perm), value)
	if err != nil {
		return nil, fmt.Errorf("encode spend: %w", err)
	}
	return data, nil
}

func permissionCalls(perm *types.SignedSpendPermission, value *big.Int) ([]types.Call, error) {
	approve, err := EncodeApprove(perm)
	if err != nil {
		return nil, err
	}
	spend, err := EncodeSpend(perm.Permission, value)
	if err != nil {
		return nil, err
	}
	return []types.Call{
		{To: ManagerAddress, Data: approve, Value: (*hexutil.Big)(new(big.Int))},
		{To: ManagerAddress, Data: spend, Value: (*hexutil.Big)(new(big.Int))},
	}, nil
}

func bigOrZero(v *math.HexOrDecimal256) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(v))
}

package smartaccount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/subaccount-sdk-go/utils"
)

// ChainClient 本包需要的只读链上查询，*ethclient.Client 满足该接口
type ChainClient interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ErrOwnerIndexNotFound 合约中没有与给定 owner 匹配的槽位
var ErrOwnerIndexNotFound = errors.New("owner index not found")

// ownerSlotConcurrency 读取 owner 槽位的并发数
const ownerSlotConcurrency = 8

// IsDeployed 判断地址上是否已有合约字节码
func IsDeployed(ctx context.Context, client ChainClient, address common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("get code for %s: %w", address.Hex(), err)
	}
	return len(code) > 0, nil
}

// ResolveOwnerIndex 查询已部署账户中与 ownerID 匹配的 owner 槽位
//
// ownerID 为公钥（64 或 65 字节）或地址（20 字节）。从最高槽位向下扫描，
// 已移除的槽位（空字节）跳过。找不到匹配时返回 ErrOwnerIndexNotFound。
func ResolveOwnerIndex(ctx context.Context, client ChainClient, account common.Address, ownerID []byte) (uint64, error) {
	target, err := FormatOwnerKey(ownerID)
	if err != nil {
		return 0, err
	}

	next, err := nextOwnerIndex(ctx, client, account)
	if err != nil {
		return 0, err
	}

	indexes := make([]uint64, next)
	for i := range indexes {
		indexes[i] = uint64(i)
	}

	slots, err := utils.ParallelExecute(ctx, indexes, func(ctx context.Context, i uint64) ([]byte, error) {
		return ownerAtIndex(ctx, client, account, i)
	}, ownerSlotConcurrency)
	if err != nil {
		return 0, err
	}

	for i := len(slots) - 1; i >= 0; i-- {
		if len(slots[i]) == 0 {
			continue
		}
		if bytes.Equal(slots[i], target) {
			return uint64(i), nil
		}
	}

	return 0, fmt.Errorf("%w: account %s, owner 0x%x", ErrOwnerIndexNotFound, account.Hex(), ownerID)
}

// FormatOwnerKey 将 owner 标识转换为合约中存储的字节格式
//   - 20 字节地址: abi.encode(address)，左补零到 32 字节
//   - 65 字节未压缩公钥: 去掉 0x04 前缀
//   - 64 字节公钥: 原样
func FormatOwnerKey(ownerID []byte) ([]byte, error) {
	switch {
	case len(ownerID) == common.AddressLength:
		return common.LeftPadBytes(ownerID, 32), nil
	case len(ownerID) == 65 && ownerID[0] == 0x04:
		return append([]byte{}, ownerID[1:]...), nil
	case len(ownerID) == 64:
		return append([]byte{}, ownerID...), nil
	default:
		return nil, fmt.Errorf("unsupported owner identifier length %d", len(ownerID))
	}
}

func nextOwnerIndex(ctx context.Context, client ChainClient, account common.Address) (uint64, error) {
	out, err := callWallet(ctx, client, account, "nextOwnerIndex")
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("unexpected nextOwnerIndex result %v", out[0])
	}
	return n.Uint64(), nil
}

func ownerAtIndex(ctx context.Context, client ChainClient, account common.Address, index uint64) ([]byte, error) {
	out, err := callWallet(ctx, client, account, "ownerAtIndex", new(big.Int).SetUint64(index))
	if err != nil {
		return nil, err
	}
	owner, ok := out[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ownerAtIndex(%d) result %T", index, out[0])
	}
	return owner, nil
}

func callWallet(ctx context.Context, client ChainClient, account common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := WalletABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &account, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, account.Hex(), err)
	}
	out, err := WalletABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return out, nil
}

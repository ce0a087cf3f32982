package spendpermission

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/subaccount-sdk-go/types"
)

// ManagerAddress SpendPermissionManager 合约地址（各链相同）
var ManagerAddress = common.HexToAddress("0xf85210B21cC50302F477BA56686d2019dC9b67Ad")

const spendPermissionTuple = `{"name":"spendPermission","type":"tuple","components":[
	{"name":"account","type":"address"},
	{"name":"spender","type":"address"},
	{"name":"token","type":"address"},
	{"name":"allowance","type":"uint160"},
	{"name":"period","type":"uint48"},
	{"name":"start","type":"uint48"},
	{"name":"end","type":"uint48"},
	{"name":"salt","type":"uint256"},
	{"name":"extraData","type":"bytes"}]}`

const managerABIJSON = `[
	{"type":"function","name":"approveWithSignature","stateMutability":"nonpayable","inputs":[
		` + spendPermissionTuple + `,
		{"name":"signature","type":"bytes"}],
		"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"spend","stateMutability":"nonpayable","inputs":[
		` + spendPermissionTuple + `,
		{"name":"value","type":"uint160"}],"outputs":[]}
]`

// ManagerABI SpendPermissionManager 中本包用到的函数
var ManagerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(managerABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// abiSpendPermission 与合约 SpendPermission 结构对应
// uint48/uint160 在 go-ethereum 中映射为 *big.Int
type abiSpendPermission struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    *big.Int
	Start     *big.Int
	End       *big.Int
	Salt      *big.Int
	ExtraData []byte
}

func toABI(p types.SpendPermission) abiSpendPermission {
	return abiSpendPermission{
		Account:   p.Account,
		Spender:   p.Spender,
		Token:     p.Token,
		Allowance: bigOrZero(p.Allowance),
		Period:    new(big.Int).SetUint64(uint64(p.Period)),
		Start:     new(big.Int).SetUint64(uint64(p.Start)),
		End:       new(big.Int).SetUint64(uint64(p.End)),
		Salt:      bigOrZero(p.Salt),
		ExtraData: []byte(p.ExtraData),
	}
}

package smartaccount

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// 默认合约地址
var (
	// DefaultEntryPoint EntryPoint v0.6
	DefaultEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	// DefaultFactory Coinbase Smart Wallet factory v1
	DefaultFactory = common.HexToAddress("0x0BA5ED0c6AA8c49038F819E587E2633c4A9F428a")
)

// walletABIJSON 智能钱包合约中本包用到的函数
const walletABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[
		{"name":"target","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"payable","inputs":[
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"}]}],"outputs":[]},
	{"type":"function","name":"nextOwnerIndex","stateMutability":"view","inputs":[],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"ownerAtIndex","stateMutability":"view","inputs":[
		{"name":"index","type":"uint256"}],
		"outputs":[{"name":"","type":"bytes"}]}
]`

// entryPointABIJSON EntryPoint 中本包用到的函数
const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[
		{"name":"sender","type":"address"},
		{"name":"key","type":"uint192"}],
		"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var (
	// WalletABI 智能钱包 ABI
	WalletABI = mustParseABI(walletABIJSON)
	// EntryPointABI EntryPoint ABI
	EntryPointABI = mustParseABI(entryPointABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// executeCall 与 executeBatch 的 tuple 组件对应
type executeCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

package bundler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/weisyn/subaccount-sdk-go/services/paymaster"
	"github.com/weisyn/subaccount-sdk-go/types"
)

// SmartAccount 提交用户操作所需的账户能力，*smartaccount.Account 满足该接口
type SmartAccount interface {
	Address() common.Address
	EntryPoint() common.Address
	InitCode(ctx context.Context) ([]byte, error)
	EncodeCalls(calls []types.Call) ([]byte, error)
	GetNonce(ctx context.Context) (*big.Int, error)
	StubSignature() ([]byte, error)
	SignUserOperation(ctx context.Context, op *types.UserOperation) ([]byte, error)
}

// Paymaster 费用赞助方，*paymaster.Client 满足该接口
type Paymaster interface {
	GetPaymasterStubData(ctx context.Context, req paymaster.Request) (*paymaster.Response, error)
	GetPaymasterData(ctx context.Context, req paymaster.Request) (*paymaster.Response, error)
}

// FeeEstimator 手续费参数来源，*ethclient.Client 满足该接口
type FeeEstimator interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// GasEstimate eth_estimateUserOperationGas 结果
type GasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// UserOperationReceipt eth_getUserOperationReceipt 结果
type UserOperationReceipt struct {
	UserOpHash    common.Hash        `json:"userOpHash"`
	EntryPoint    common.Address     `json:"entryPoint"`
	Sender        common.Address     `json:"sender"`
	Nonce         *hexutil.Big       `json:"nonce"`
	Paymaster     *common.Address    `json:"paymaster,omitempty"`
	ActualGasCost *hexutil.Big       `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big       `json:"actualGasUsed"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason,omitempty"`
	Receipt       TransactionReceipt `json:"receipt"`
}

// TransactionReceipt 打包用户操作的链上交易回执
type TransactionReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	BlockHash       common.Hash     `json:"blockHash"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	Status          *hexutil.Uint64 `json:"status,omitempty"`
}

package types

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleUserOperation() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                BigToHex(big.NewInt(3)),
		CallData:             hexutil.Bytes{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         BigToHex(big.NewInt(100000)),
		VerificationGasLimit: BigToHex(big.NewInt(200000)),
		PreVerificationGas:   BigToHex(big.NewInt(50000)),
		MaxFeePerGas:         BigToHex(big.NewInt(2_000_000_000)),
		MaxPriorityFeePerGas: BigToHex(big.NewInt(1_000_000_000)),
	}
}

func TestUserOperation_Hash(t *testing.T) {
	entryPoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	op := sampleUserOperation()

	h1, err := op.Hash(entryPoint, big.NewInt(8453))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, h1)

	t.Run("signature excluded", func(t *testing.T) {
		signed := op.Copy()
		signed.Signature = hexutil.Bytes{1, 2, 3}
		h2, err := signed.Hash(entryPoint, big.NewInt(8453))
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("chain bound", func(t *testing.T) {
		h2, err := op.Hash(entryPoint, big.NewInt(84532))
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("paymaster bound", func(t *testing.T) {
		sponsored := op.Copy()
		sponsored.PaymasterAndData = common.HexToAddress("0x2222").Bytes()
		h2, err := sponsored.Hash(entryPoint, big.NewInt(8453))
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("nil numerics are zero", func(t *testing.T) {
		empty := &UserOperation{Sender: op.Sender}
		zeroed := &UserOperation{
			Sender:               op.Sender,
			Nonce:                BigToHex(nil),
			CallGasLimit:         BigToHex(nil),
			VerificationGasLimit: BigToHex(nil),
			PreVerificationGas:   BigToHex(nil),
			MaxFeePerGas:         BigToHex(nil),
			MaxPriorityFeePerGas: BigToHex(nil),
		}
		a, err := empty.Hash(entryPoint, nil)
		require.NoError(t, err)
		b, err := zeroed.Hash(entryPoint, big.NewInt(0))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

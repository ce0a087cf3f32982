package smartaccount

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ERC6492MagicBytes ERC-6492 签名后缀
var ERC6492MagicBytes = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

var (
	signatureWrapperT, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "ownerIndex", Type: "uint256"},
		{Name: "signatureData", Type: "bytes"},
	})
	signatureWrapperArgs = abi.Arguments{{Type: signatureWrapperT}}

	erc6492AddressT, _ = abi.NewType("address", "", nil)
	erc6492BytesT, _   = abi.NewType("bytes", "", nil)
	erc6492Args        = abi.Arguments{
		{Type: erc6492AddressT},
		{Type: erc6492BytesT},
		{Type: erc6492BytesT},
	}
)

// signatureWrapper 与合约 SignatureWrapper 结构对应
type signatureWrapper struct {
	OwnerIndex    *big.Int
	SignatureData []byte
}

// WrapSignature 将 owner 签名包装为 abi.encode(SignatureWrapper{ownerIndex, signature})
func WrapSignature(ownerIndex uint64, signature []byte) ([]byte, error) {
	packed, err := signatureWrapperArgs.Pack(signatureWrapper{
		OwnerIndex:    new(big.Int).SetUint64(ownerIndex),
		SignatureData: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("pack signature wrapper: %w", err)
	}
	return packed, nil
}

// UnwrapSignature WrapSignature 的逆操作
func UnwrapSignature(wrapped []byte) (uint64, []byte, error) {
	out, err := signatureWrapperArgs.Unpack(wrapped)
	if err != nil {
		return 0, nil, fmt.Errorf("unpack signature wrapper: %w", err)
	}
	w := abi.ConvertType(out[0], new(signatureWrapper)).(*signatureWrapper)
	if !w.OwnerIndex.IsUint64() {
		return 0, nil, fmt.Errorf("owner index overflows uint64")
	}
	return w.OwnerIndex.Uint64(), w.SignatureData, nil
}

// WrapERC6492 为尚未部署的账户生成 ERC-6492 签名
// abi.encode(factory, factoryCalldata, signature) ++ magic
func WrapERC6492(factory common.Address, factoryData, signature []byte) ([]byte, error) {
	packed, err := erc6492Args.Pack(factory, factoryData, signature)
	if err != nil {
		return nil, fmt.Errorf("pack erc6492 signature: %w", err)
	}
	return append(packed, ERC6492MagicBytes...), nil
}

// IsERC6492Signature 判断签名是否带 ERC-6492 后缀
func IsERC6492Signature(sig []byte) bool {
	return len(sig) >= len(ERC6492MagicBytes) && bytes.HasSuffix(sig, ERC6492MagicBytes)
}

// ReplaySafeHash 计算智能钱包的防重放哈希
// EIP-712: CoinbaseSmartWalletMessage(bytes32 hash)，domain 绑定链 ID 与账户地址
func ReplaySafeHash(chainID *big.Int, account common.Address, hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"CoinbaseSmartWalletMessage": {
				{Name: "hash", Type: "bytes32"},
			},
		},
		PrimaryType: "CoinbaseSmartWalletMessage",
		Domain: apitypes.TypedDataDomain{
			Name:              "Coinbase Smart Wallet",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: account.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"hash": hexutil.Encode(hash),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("hash replay-safe message: %w", err)
	}
	return digest, nil
}

// dummyECDSASignature 用于 gas 估算的占位签名
var dummyECDSASignature = common.FromHex(
	"0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c",
)

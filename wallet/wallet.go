package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Owner 子账户的所有者凭证
//
// 子账户合约在某个 owner 槽位登记了该凭证；本 SDK 只用它做身份比较和签名，
// 不负责密钥托管。
type Owner interface {
	// Address 所有者地址
	Address() common.Address

	// PublicKey 所有者公钥（64 字节 x||y）
	// 以地址登记的所有者返回 nil，解析 owner index 时回退到地址
	PublicKey() []byte

	// SignHash 对 32 字节哈希签名，返回 r||s||v（65 字节，v 为 27/28）
	SignHash(hash []byte) ([]byte, error)
}

// OwnerFunc 按需产生当前会话的子账户所有者
// 可能需要用户交互或访问远程签名服务，因此接受 ctx
type OwnerFunc func(ctx context.Context) (Owner, error)

// Static 返回总是产生同一所有者的 OwnerFunc
func Static(owner Owner) OwnerFunc {
	return func(context.Context) (Owner, error) {
		return owner, nil
	}
}

// LocalOwner 持有 secp256k1 私钥的本地所有者（用于测试和开发）
type LocalOwner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewOwner 生成新的本地所有者
func NewOwner() (*LocalOwner, error) {
	privateKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return newLocalOwner(privateKey), nil
}

// NewOwnerFromPrivateKey 从私钥创建本地所有者
func NewOwnerFromPrivateKey(privateKeyHex string) (*LocalOwner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	if len(privateKeyBytes) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privateKeyBytes))
	}

	privateKey, err := ethcrypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse secp256k1 private key failed: %w", err)
	}
	return newLocalOwner(privateKey), nil
}

func newLocalOwner(privateKey *ecdsa.PrivateKey) *LocalOwner {
	return &LocalOwner{
		privateKey: privateKey,
		address:    ethcrypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address 获取所有者地址
func (o *LocalOwner) Address() common.Address {
	return o.address
}

// PublicKey EOA 所有者在合约中以地址登记
func (o *LocalOwner) PublicKey() []byte {
	return nil
}

// SignHash 签名哈希值
func (o *LocalOwner) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := ethcrypto.Sign(hash, o.privateKey)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	// 合约侧 ecrecover 使用 27/28
	sig[64] += 27
	return sig, nil
}

// RecoverAddress 从 SignHash 产生的签名恢复签名者地址
func RecoverAddress(hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

//go:build integration

package integration

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/subaccount-sdk-go/chains"
	"github.com/weisyn/subaccount-sdk-go/config"
	"github.com/weisyn/subaccount-sdk-go/signer"
	"github.com/weisyn/subaccount-sdk-go/store"
	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

// 集成测试环境变量
const (
	// EnvConfig YAML 配置文件路径
	EnvConfig = "SUBACCOUNT_IT_CONFIG"
	// EnvChainID 测试使用的链
	EnvChainID = "SUBACCOUNT_IT_CHAIN_ID"
	// EnvOwnerKey 子账户 owner 私钥
	EnvOwnerKey = "SUBACCOUNT_IT_OWNER_KEY"
	// EnvAddress 子账户地址
	EnvAddress = "SUBACCOUNT_IT_ADDRESS"
	// EnvFactoryData 未部署子账户的 factory calldata（可选）
	EnvFactoryData = "SUBACCOUNT_IT_FACTORY_DATA"
	// EnvSendTarget 设置后执行真实提交测试，向该地址发送 0 值调用
	EnvSendTarget = "SUBACCOUNT_IT_SEND_TARGET"
)

// DefaultTimeout 单个测试的超时时间
const DefaultTimeout = 5 * time.Minute

// Env 集成测试环境
type Env struct {
	Config   *config.Config
	Registry *chains.Registry
	Store    *store.MemoryStore
	Owner    *wallet.LocalOwner
	ChainID  uint64
}

// RequireEnv 读取必需的环境变量，缺失时跳过测试
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set, skipping integration test", key)
	}
	return v
}

// SetupEnv 连接配置中的链并准备会话状态
func SetupEnv(t *testing.T) *Env {
	t.Helper()

	cfg, err := config.Load(RequireEnv(t, EnvConfig))
	require.NoError(t, err, "加载配置失败")

	owner, err := wallet.NewOwnerFromPrivateKey(RequireEnv(t, EnvOwnerKey))
	require.NoError(t, err, "加载 owner 私钥失败")

	address := RequireEnv(t, EnvAddress)
	require.True(t, common.IsHexAddress(address), "无效的子账户地址: %s", address)

	chainID := cfg.Chains[0].ID
	if v := os.Getenv(EnvChainID); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		require.NoError(t, err, "无效的链 ID: %s", v)
		chainID = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	registry, err := chains.Dial(ctx, cfg, nil)
	require.NoError(t, err, "连接链失败")
	t.Cleanup(func() {
		if err := registry.Close(); err != nil {
			t.Logf("关闭连接时出现警告: %v", err)
		}
	})

	s := store.NewMemoryStore()
	s.SetSubAccount(&types.SubAccount{
		Address:     common.HexToAddress(address),
		FactoryData: common.FromHex(os.Getenv(EnvFactoryData)),
	})
	s.SetToSubAccountSigner(wallet.Static(owner))

	return &Env{Config: cfg, Registry: registry, Store: s, Owner: owner, ChainID: chainID}
}

// NewSigner 按配置创建签名器
func (e *Env) NewSigner(t *testing.T) *signer.SubAccountSigner {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := signer.CreateSubAccountSigner(ctx, signer.Session{
		ChainID: e.ChainID,
		Chains:  e.Registry,
		Store:   e.Store,
	}, signer.WithDefaultOwnerIndex(e.Config.Signer.DefaultOwnerIndex))
	require.NoError(t, err, "创建签名器失败")
	return s
}

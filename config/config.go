// Package config 子账户签名器的 YAML 配置
//
// 示例：
//
//	chains:
//	  - id: 84532
//	    rpcUrl: https://sepolia.base.org
//	    bundlerUrl: https://api.developer.coinbase.com/rpc/v1/base-sepolia/KEY
//	signer:
//	  defaultOwnerIndex: 1
//	  receiptPollInterval: 1s
//	  receiptTimeout: 3m
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/weisyn/subaccount-sdk-go/client"
)

// 环境变量
const (
	EnvDefaultOwnerIndex = "SUBACCOUNT_DEFAULT_OWNER_INDEX"
	EnvReceiptTimeout    = "SUBACCOUNT_RECEIPT_TIMEOUT"
	EnvDebug             = "SUBACCOUNT_DEBUG"
)

// Config 顶层配置
type Config struct {
	Chains []ChainConfig `yaml:"chains"`
	Signer SignerConfig  `yaml:"signer"`
	Debug  bool          `yaml:"debug"`
}

// ChainConfig 单条链的节点与 bundler 端点
type ChainConfig struct {
	ID     uint64 `yaml:"id"`
	RPCURL string `yaml:"rpcUrl"`

	BundlerURL string `yaml:"bundlerUrl"`
	// BundlerProtocol 为空时按 URL scheme 推断
	BundlerProtocol string            `yaml:"bundlerProtocol,omitempty"`
	BundlerHeaders  map[string]string `yaml:"bundlerHeaders,omitempty"`

	// EntryPoint 为空使用 EntryPoint v0.6
	EntryPoint string `yaml:"entryPoint,omitempty"`
	// Timeout bundler 请求超时（秒）
	Timeout int `yaml:"timeout,omitempty"`
}

// SignerConfig 签名器行为
type SignerConfig struct {
	// DefaultOwnerIndex 账户未部署时使用的 owner 槽位
	DefaultOwnerIndex   uint64        `yaml:"defaultOwnerIndex"`
	ReceiptPollInterval time.Duration `yaml:"receiptPollInterval"`
	ReceiptTimeout      time.Duration `yaml:"receiptTimeout"`
}

// Default 默认配置（不含链）
func Default() *Config {
	return &Config{
		Signer: SignerConfig{
			DefaultOwnerIndex:   1,
			ReceiptPollInterval: time.Second,
			ReceiptTimeout:      3 * time.Minute,
		},
	}
}

// Load 读取 YAML 文件，未出现的字段保留默认值，随后应用环境变量并校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 内容
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides 用 SUBACCOUNT_* 环境变量覆盖配置
func (c *Config) ApplyEnvOverrides() error {
	if v, ok := os.LookupEnv(EnvDefaultOwnerIndex); ok {
		index, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDefaultOwnerIndex, err)
		}
		c.Signer.DefaultOwnerIndex = index
	}
	if v, ok := os.LookupEnv(EnvReceiptTimeout); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvReceiptTimeout, err)
		}
		c.Signer.ReceiptTimeout = d
	}
	if v, ok := os.LookupEnv(EnvDebug); ok {
		debug, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvDebug, err)
		}
		c.Debug = debug
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: at least one chain is required")
	}
	seen := make(map[uint64]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.ID == 0 {
			return fmt.Errorf("config: chains[%d]: id is required", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("config: chains[%d]: duplicate chain id %d", i, ch.ID)
		}
		seen[ch.ID] = true
		if ch.RPCURL == "" {
			return fmt.Errorf("config: chain %d: rpcUrl is required", ch.ID)
		}
		if ch.BundlerURL == "" {
			return fmt.Errorf("config: chain %d: bundlerUrl is required", ch.ID)
		}
		switch client.Protocol(ch.BundlerProtocol) {
		case "", client.ProtocolHTTP, client.ProtocolGRPC, client.ProtocolWebSocket:
		default:
			return fmt.Errorf("config: chain %d: unsupported bundler protocol %q", ch.ID, ch.BundlerProtocol)
		}
		if ch.EntryPoint != "" && !common.IsHexAddress(ch.EntryPoint) {
			return fmt.Errorf("config: chain %d: invalid entryPoint %q", ch.ID, ch.EntryPoint)
		}
		if ch.Timeout < 0 {
			return fmt.Errorf("config: chain %d: timeout must not be negative", ch.ID)
		}
	}
	if c.Signer.ReceiptPollInterval <= 0 {
		return errors.New("config: signer.receiptPollInterval must be positive")
	}
	if c.Signer.ReceiptTimeout < c.Signer.ReceiptPollInterval {
		return errors.New("config: signer.receiptTimeout must not be shorter than receiptPollInterval")
	}
	return nil
}

// Chain 按 ID 查找链配置
func (c *Config) Chain(id uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// BundlerClientConfig 转换为 bundler 传输配置
// 用户操作提交不可重放，传输层不重试
func (ch ChainConfig) BundlerClientConfig(debug bool) *client.Config {
	cfg := client.DefaultConfig()
	cfg.Retry = client.NoRetry()
	cfg.Endpoint = ch.BundlerURL
	cfg.Protocol = client.Protocol(ch.BundlerProtocol)
	cfg.Headers = ch.BundlerHeaders
	cfg.Debug = debug
	if ch.Timeout > 0 {
		cfg.Timeout = ch.Timeout
	}
	return cfg
}

// EntryPointAddress 链使用的 EntryPoint，未配置时返回零地址
func (ch ChainConfig) EntryPointAddress() common.Address {
	if ch.EntryPoint == "" {
		return common.Address{}
	}
	return common.HexToAddress(ch.EntryPoint)
}

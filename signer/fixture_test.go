package signer_test

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/subaccount-sdk-go/chains"
	"github.com/weisyn/subaccount-sdk-go/services/bundler"
	"github.com/weisyn/subaccount-sdk-go/services/smartaccount/smartaccounttest"
	"github.com/weisyn/subaccount-sdk-go/signer"
	"github.com/weisyn/subaccount-sdk-go/store"
	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

const testChainID uint64 = 84532

var (
	subAccountAddr = common.HexToAddress("0x7A7a2C2D1D0d1e6C5C7bd3f8d8fDb2c1F6fC7b3E")
	otherOwner     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	target         = common.HexToAddress("0x4444444444444444444444444444444444444444")
	userOpHash     = common.HexToHash("0xfeedface00000000000000000000000000000000000000000000000000000001")
	txHash         = common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000002")
)

// stubBundler 记录提交的批次
type stubBundler struct {
	mu         sync.Mutex
	batches    [][]types.Call
	paymasters []bundler.Paymaster
	waited     []common.Hash
	sendErr    error
	waitErr    error
}

func (b *stubBundler) SendUserOperation(ctx context.Context, account bundler.SmartAccount, calls []types.Call, pm bundler.Paymaster) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return common.Hash{}, b.sendErr
	}
	b.batches = append(b.batches, calls)
	b.paymasters = append(b.paymasters, pm)
	return userOpHash, nil
}

func (b *stubBundler) WaitForUserOperationReceipt(ctx context.Context, hash common.Hash) (*bundler.UserOperationReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waited = append(b.waited, hash)
	if b.waitErr != nil {
		return nil, b.waitErr
	}
	return &bundler.UserOperationReceipt{
		UserOpHash: hash,
		Success:    true,
		Receipt:    bundler.TransactionReceipt{TransactionHash: txHash},
	}, nil
}

// countingOwner 统计签名次数
type countingOwner struct {
	wallet.Owner
	signs atomic.Int32
}

func (o *countingOwner) SignHash(hash []byte) ([]byte, error) {
	o.signs.Add(1)
	return o.Owner.SignHash(hash)
}

type fixture struct {
	chain    *smartaccounttest.ChainStub
	registry *chains.Registry
	store    *store.MemoryStore
	bundler  *stubBundler
	owner    *countingOwner
}

// newFixture deployed 为 true 时 owner 登记在槽位 3
func newFixture(t *testing.T, deployed bool) *fixture {
	t.Helper()
	local, err := wallet.NewOwner()
	require.NoError(t, err)

	f := &fixture{
		chain:    smartaccounttest.NewChainStub(),
		registry: chains.NewRegistry(),
		store:    store.NewMemoryStore(),
		bundler:  &stubBundler{},
		owner:    &countingOwner{Owner: local},
	}
	if deployed {
		other := smartaccounttest.AddressOwner(otherOwner)
		f.chain.Deploy(subAccountAddr, other, other, other, smartaccounttest.AddressOwner(local.Address()))
	}
	f.registry.Register(chains.Chain{ID: testChainID, Client: f.chain, Bundler: f.bundler})
	f.store.SetSubAccount(&types.SubAccount{Address: subAccountAddr, FactoryData: []byte{0xca, 0xfe}})
	f.store.SetToSubAccountSigner(func(context.Context) (wallet.Owner, error) {
		return f.owner, nil
	})
	return f
}

func (f *fixture) session() signer.Session {
	return signer.Session{ChainID: testChainID, Chains: f.registry, Store: f.store}
}

func (f *fixture) signer(t *testing.T, opts ...signer.Option) *signer.SubAccountSigner {
	t.Helper()
	s, err := signer.CreateSubAccountSigner(context.Background(), f.session(), opts...)
	require.NoError(t, err)
	return s
}

func (f *fixture) batches() [][]types.Call {
	f.bundler.mu.Lock()
	defer f.bundler.mu.Unlock()
	return append([][]types.Call(nil), f.bundler.batches...)
}

func bigValue(v int64) *big.Int { return big.NewInt(v) }

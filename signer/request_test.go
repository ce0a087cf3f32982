package signer_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/subaccount-sdk-go/chains"
	"github.com/weisyn/subaccount-sdk-go/metrics"
	"github.com/weisyn/subaccount-sdk-go/services/bundler"
	"github.com/weisyn/subaccount-sdk-go/services/paymaster"
	"github.com/weisyn/subaccount-sdk-go/services/smartaccount"
	"github.com/weisyn/subaccount-sdk-go/services/spendpermission"
	"github.com/weisyn/subaccount-sdk-go/signer"
	"github.com/weisyn/subaccount-sdk-go/types"
	"github.com/weisyn/subaccount-sdk-go/wallet"
)

func request(t *testing.T, s *signer.SubAccountSigner, method string, params ...interface{}) (interface{}, error) {
	t.Helper()
	return s.Request(context.Background(), signer.RequestArguments{Method: method, Params: params})
}

func testSpendPermission() *types.SignedSpendPermission {
	return &types.SignedSpendPermission{
		Permission: types.SpendPermission{
			Account:   subAccountAddr,
			Spender:   target,
			Token:     common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"),
			Allowance: (*math.HexOrDecimal256)(bigValue(1_000_000)),
			Period:    86400,
			End:       1_900_000_000,
			Salt:      (*math.HexOrDecimal256)(bigValue(1)),
		},
		Signature: hexutil.Bytes{0x01, 0x02},
	}
}

func TestLocalMethods(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	result, err := request(t, s, "wallet_addSubAccount")
	require.NoError(t, err)
	sub, ok := result.(*types.SubAccount)
	require.True(t, ok)
	assert.Equal(t, subAccountAddr, sub.Address)

	result, err = request(t, s, "eth_accounts")
	require.NoError(t, err)
	assert.Equal(t, []common.Address{subAccountAddr}, result)

	result, err = request(t, s, "eth_coinbase")
	require.NoError(t, err)
	assert.Equal(t, subAccountAddr, result)

	result, err = request(t, s, "net_version")
	require.NoError(t, err)
	assert.Equal(t, "84532", result)

	result, err = request(t, s, "eth_chainId")
	require.NoError(t, err)
	assert.Equal(t, "0x14a34", result)

	assert.Equal(t, int32(0), f.owner.signs.Load())
	assert.Empty(t, f.batches())
}

func TestUnsupportedMethods(t *testing.T) {
	s := newFixture(t, true).signer(t)

	for _, method := range []string{
		"eth_signTypedData_v1",
		"eth_signTypedData_v3",
		"wallet_addEthereumChain",
		"wallet_switchEthereumChain",
		"eth_sign",
		"",
	} {
		t.Run(method, func(t *testing.T) {
			_, err := request(t, s, method, "0x00")
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrMethodNotSupported))
			assert.False(t, errors.Is(err, types.ErrNotImplemented))
			pe, _ := types.IsProviderError(err)
			assert.Equal(t, types.CodeMethodNotSupported, pe.Code)
		})
	}
}

func TestSendPreparedCallsNotImplemented(t *testing.T) {
	s := newFixture(t, true).signer(t)

	_, err := request(t, s, "wallet_sendPreparedCalls", map[string]interface{}{"type": "user-operation-v06"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotImplemented))
	assert.False(t, errors.Is(err, types.ErrMethodNotSupported))
}

func TestPositionalParamsRequired(t *testing.T) {
	for _, method := range []string{"personal_sign", "eth_signTypedData_v4", "eth_sendTransaction", "wallet_sendCalls"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t, true)
			s := f.signer(t)

			_, err := request(t, s, method)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidParams))
			assert.Equal(t, int32(0), f.owner.signs.Load())
			assert.Empty(t, f.batches())
		})
	}
}

func TestPersonalSign(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	tests := []struct {
		name    string
		param   string
		message []byte
	}{
		{"text", "hello world", []byte("hello world")},
		{"hex payload", "0x68656c6c6f", []byte("hello")},
		{"invalid hex is text", "0xzz", []byte("0xzz")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := request(t, s, "personal_sign", tt.param, subAccountAddr.Hex())
			require.NoError(t, err)

			sig, err := hexutil.Decode(result.(string))
			require.NoError(t, err)
			index, inner, err := smartaccount.UnwrapSignature(sig)
			require.NoError(t, err)
			assert.Equal(t, uint64(3), index)

			safeHash, err := smartaccount.ReplaySafeHash(bigValue(int64(testChainID)), subAccountAddr, accounts.TextHash(tt.message))
			require.NoError(t, err)
			recovered, err := wallet.RecoverAddress(safeHash, inner)
			require.NoError(t, err)
			assert.Equal(t, f.owner.Address(), recovered)
		})
	}

	_, err := request(t, s, "personal_sign", 42)
	assert.True(t, errors.Is(err, types.ErrInvalidParams))
}

func TestPersonalSignUndeployed(t *testing.T) {
	s := newFixture(t, false).signer(t)

	result, err := request(t, s, "personal_sign", "hi")
	require.NoError(t, err)
	sig, err := hexutil.Decode(result.(string))
	require.NoError(t, err)
	assert.True(t, smartaccount.IsERC6492Signature(sig))
}

const typedDataJSON = `{
	"types": {
		"EIP712Domain": [
			{"name": "name", "type": "string"},
			{"name": "version", "type": "string"},
			{"name": "chainId", "type": "uint256"},
			{"name": "verifyingContract", "type": "address"}
		],
		"Mail": [
			{"name": "from", "type": "address"},
			{"name": "contents", "type": "string"}
		]
	},
	"primaryType": "Mail",
	"domain": {
		"name": "Ether Mail",
		"version": "1",
		"chainId": "84532",
		"verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
	},
	"message": {
		"from": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826",
		"contents": "Hello, Bob!"
	}
}`

func TestSignTypedDataV4(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	var typedData apitypes.TypedData
	require.NoError(t, json.Unmarshal([]byte(typedDataJSON), &typedData))
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)
	safeHash, err := smartaccount.ReplaySafeHash(bigValue(int64(testChainID)), subAccountAddr, digest)
	require.NoError(t, err)

	var asObject map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(typedDataJSON), &asObject))

	for name, param := range map[string]interface{}{"json string": typedDataJSON, "object": asObject} {
		t.Run(name, func(t *testing.T) {
			result, err := request(t, s, "eth_signTypedData_v4", subAccountAddr.Hex(), param)
			require.NoError(t, err)

			sig, err := hexutil.Decode(result.(string))
			require.NoError(t, err)
			_, inner, err := smartaccount.UnwrapSignature(sig)
			require.NoError(t, err)
			recovered, err := wallet.RecoverAddress(safeHash, inner)
			require.NoError(t, err)
			assert.Equal(t, f.owner.Address(), recovered)
		})
	}

	t.Run("typed data missing", func(t *testing.T) {
		_, err := request(t, s, "eth_signTypedData_v4", subAccountAddr.Hex())
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
	})

	t.Run("malformed typed data", func(t *testing.T) {
		_, err := request(t, s, "eth_signTypedData_v4", subAccountAddr.Hex(), "{not json")
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
	})
}

func TestSendTransactionEndToEnd(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)
	require.Equal(t, uint64(3), s.OwnerIndex())

	result, err := request(t, s, "eth_sendTransaction", map[string]interface{}{
		"to":    target.Hex(),
		"data":  "0x1234",
		"value": "0x64",
	})
	require.NoError(t, err)
	assert.Equal(t, txHash.Hex(), result)

	batches := f.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	call := batches[0][0]
	assert.Equal(t, target, call.To)
	assert.Equal(t, hexutil.Bytes{0x12, 0x34}, call.Data)
	assert.Equal(t, int64(100), call.ValueOrZero().Int64())

	assert.Equal(t, []common.Hash{userOpHash}, f.bundler.waited)
	assert.Nil(t, f.bundler.paymasters[0])
}

func TestSendTransactionDecimalValue(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	_, err := request(t, s, "eth_sendTransaction", map[string]interface{}{"to": target.Hex(), "value": 250})
	require.NoError(t, err)
	assert.Equal(t, int64(250), f.batches()[0][0].ValueOrZero().Int64())
}

// decodedParams 模拟调用方用 encoding/json 解码得到的参数
func decodedParams(t *testing.T, body string, useNumber bool) interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	if useNumber {
		dec.UseNumber()
	}
	var v interface{}
	require.NoError(t, dec.Decode(&v))
	return v
}

func TestSendTransactionNumericValues(t *testing.T) {
	body := func(value string) string {
		return `{"to":"` + target.Hex() + `","value":` + value + `}`
	}

	tests := []struct {
		name  string
		value string
	}{
		{"above 2^53", "1234567890123456789"},
		{"exponent form", "1e21"},
		{"fraction", "1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			_, err := request(t, f.signer(t), "eth_sendTransaction", decodedParams(t, body(tt.value), false))
			assert.True(t, errors.Is(err, types.ErrInvalidParams), "got %v", err)
			assert.Empty(t, f.batches())
		})
	}

	t.Run("exact float", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "eth_sendTransaction", decodedParams(t, body("9007199254740992"), false))
		require.NoError(t, err)
		assert.Equal(t, "9007199254740992", f.batches()[0][0].ValueOrZero().String())
	})

	t.Run("json number kept exact", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.SetSpendPermission(testSpendPermission())
		_, err := request(t, f.signer(t), "eth_sendTransaction", decodedParams(t, body("1234567890123456789"), true))
		require.NoError(t, err)

		calls := f.batches()[0]
		require.Len(t, calls, 3)
		want, _ := new(big.Int).SetString("1234567890123456789", 10)
		assert.Equal(t, want.String(), calls[2].ValueOrZero().String())

		spend, err := spendpermission.EncodeSpend(testSpendPermission().Permission, want)
		require.NoError(t, err)
		assert.Equal(t, hexutil.Bytes(spend), calls[1].Data)
	})

	t.Run("json number exponent rejected", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "eth_sendTransaction", decodedParams(t, body("1e21"), true))
		assert.True(t, errors.Is(err, types.ErrInvalidParams), "got %v", err)
		assert.Empty(t, f.batches())
	})
}

func TestSendTransactionWithSpendPermission(t *testing.T) {
	f := newFixture(t, true)
	f.store.SetSpendPermission(testSpendPermission())
	s := f.signer(t)

	_, err := request(t, s, "eth_sendTransaction", map[string]interface{}{"to": target.Hex(), "value": "0x64"})
	require.NoError(t, err)

	batches := f.batches()
	require.Len(t, batches, 1)
	calls := batches[0]
	require.Len(t, calls, 3)
	assert.Equal(t, spendpermission.ManagerAddress, calls[0].To)
	assert.Equal(t, spendpermission.ManagerABI.Methods["approveWithSignature"].ID, []byte(calls[0].Data[:4]))
	assert.Equal(t, spendpermission.ManagerAddress, calls[1].To)
	assert.Equal(t, spendpermission.ManagerABI.Methods["spend"].ID, []byte(calls[1].Data[:4]))
	assert.Equal(t, target, calls[2].To)
	assert.Equal(t, int64(100), calls[2].ValueOrZero().Int64())

	spend, err := spendpermission.EncodeSpend(testSpendPermission().Permission, bigValue(100))
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(spend), calls[1].Data)
}

func TestSendTransactionErrors(t *testing.T) {
	t.Run("missing to", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "eth_sendTransaction", map[string]interface{}{"data": "0x"})
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
	})

	t.Run("missing bundler", func(t *testing.T) {
		f := newFixture(t, true)
		s := f.signer(t)
		f.registry.Register(chains.Chain{ID: testChainID, Client: f.chain})

		_, err := request(t, s, "eth_sendTransaction", map[string]interface{}{"to": target.Hex()})
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrNotFound))
		pe, _ := types.IsProviderError(err)
		assert.Equal(t, types.CodeInvalidParams, pe.Code)
	})

	t.Run("bundler error propagates", func(t *testing.T) {
		f := newFixture(t, true)
		boom := errors.New("AA25 invalid account nonce")
		f.bundler.sendErr = boom

		_, err := request(t, f.signer(t), "eth_sendTransaction", map[string]interface{}{"to": target.Hex()})
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("receipt error propagates", func(t *testing.T) {
		f := newFixture(t, true)
		f.bundler.waitErr = bundler.ErrReceiptTimeout

		_, err := request(t, f.signer(t), "eth_sendTransaction", map[string]interface{}{"to": target.Hex()})
		assert.True(t, errors.Is(err, bundler.ErrReceiptTimeout))
	})
}

type fakePaymaster struct{}

func (fakePaymaster) GetPaymasterStubData(context.Context, paymaster.Request) (*paymaster.Response, error) {
	return &paymaster.Response{IsFinal: true}, nil
}

func (fakePaymaster) GetPaymasterData(context.Context, paymaster.Request) (*paymaster.Response, error) {
	return &paymaster.Response{}, nil
}

func TestSendTransactionPaymasterCapability(t *testing.T) {
	f := newFixture(t, true)

	var gotURL string
	var gotContext map[string]interface{}
	s := f.signer(t, signer.WithPaymasterFactory(func(url string, ctx map[string]interface{}) (bundler.Paymaster, error) {
		gotURL, gotContext = url, ctx
		return fakePaymaster{}, nil
	}))

	_, err := request(t, s, "eth_sendTransaction", map[string]interface{}{
		"to": target.Hex(),
		"capabilities": map[string]interface{}{
			"paymasterService": map[string]interface{}{
				"url":     "https://paymaster.example/rpc",
				"context": map[string]interface{}{"policyId": "abc"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://paymaster.example/rpc", gotURL)
	assert.Equal(t, "abc", gotContext["policyId"])
	assert.NotNil(t, f.bundler.paymasters[0])

	failing := f.signer(t, signer.WithPaymasterFactory(func(string, map[string]interface{}) (bundler.Paymaster, error) {
		return nil, errors.New("bad url")
	}))
	_, err = request(t, failing, "eth_sendTransaction", map[string]interface{}{
		"to":           target.Hex(),
		"capabilities": map[string]interface{}{"paymasterService": map[string]interface{}{"url": "::"}},
	})
	assert.True(t, errors.Is(err, types.ErrInvalidParams))
}

func sendCallsParams(chainID interface{}, calls ...map[string]interface{}) map[string]interface{} {
	list := make([]interface{}, len(calls))
	for i, c := range calls {
		list[i] = c
	}
	p := map[string]interface{}{"version": "1.0", "calls": list}
	if chainID != nil {
		p["chainId"] = chainID
	}
	return p
}

func TestSendCalls(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	result, err := request(t, s, "wallet_sendCalls", sendCallsParams("0x14a34",
		map[string]interface{}{"to": target.Hex(), "data": "0xabcd"},
		map[string]interface{}{"to": target.Hex(), "value": "0x5"},
	))
	require.NoError(t, err)
	assert.Equal(t, userOpHash.Hex(), result)

	batches := f.batches()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, hexutil.Bytes{0xab, 0xcd}, batches[0][0].Data)
	assert.Equal(t, int64(5), batches[0][1].ValueOrZero().Int64())

	// 不等待回执
	assert.Empty(t, f.bundler.waited)
}

func TestSendCallsWithSpendPermission(t *testing.T) {
	f := newFixture(t, true)
	f.store.SetSpendPermission(testSpendPermission())
	s := f.signer(t)

	_, err := request(t, s, "wallet_sendCalls", sendCallsParams(float64(testChainID),
		map[string]interface{}{"to": target.Hex(), "value": "0x5"},
		map[string]interface{}{"to": target.Hex(), "value": "0x7"},
	))
	require.NoError(t, err)

	calls := f.batches()[0]
	require.Len(t, calls, 4)
	spend, err := spendpermission.EncodeSpend(testSpendPermission().Permission, bigValue(12))
	require.NoError(t, err)
	assert.Equal(t, hexutil.Bytes(spend), calls[1].Data)
}

func TestSendCallsErrors(t *testing.T) {
	call := map[string]interface{}{"to": target.Hex()}

	t.Run("chain id required", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "wallet_sendCalls", sendCallsParams(nil, call))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrNotFound))
		pe, _ := types.IsProviderError(err)
		assert.Equal(t, types.CodeInvalidParams, pe.Code)
	})

	t.Run("chain id mismatch", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "wallet_sendCalls", sendCallsParams("0x1", call))
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
		assert.Empty(t, f.batches())
	})

	t.Run("empty calls", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "wallet_sendCalls", sendCallsParams("0x14a34"))
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
	})

	t.Run("call without target", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := request(t, f.signer(t), "wallet_sendCalls", sendCallsParams("0x14a34", map[string]interface{}{"data": "0x"}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrInvalidParams))
		assert.Contains(t, err.Error(), "calls[0].to")
	})
}

func TestRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, true)
	s := f.signer(t, signer.WithMetrics(metrics.NewRecorder(reg)))

	_, err := request(t, s, "eth_accounts")
	require.NoError(t, err)
	_, err = request(t, s, "eth_signTypedData_v1")
	require.Error(t, err)
	_, err = request(t, s, "wallet_sendCalls", sendCallsParams("0x14a34", map[string]interface{}{"to": target.Hex()}))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "subaccount_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(reg, "subaccount_user_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConcurrentRequests(t *testing.T) {
	f := newFixture(t, true)
	s := f.signer(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := request(t, s, "eth_accounts")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := request(t, s, "personal_sign", "concurrent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(20), f.owner.signs.Load())
}

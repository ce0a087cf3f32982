package signer

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/weisyn/subaccount-sdk-go/chains"
	"github.com/weisyn/subaccount-sdk-go/services/bundler"
	"github.com/weisyn/subaccount-sdk-go/services/spendpermission"
	"github.com/weisyn/subaccount-sdk-go/types"
)

// 支持的方法
const (
	MethodAddSubAccount     = "wallet_addSubAccount"
	MethodAccounts          = "eth_accounts"
	MethodCoinbase          = "eth_coinbase"
	MethodNetVersion        = "net_version"
	MethodChainID           = "eth_chainId"
	MethodSendTransaction   = "eth_sendTransaction"
	MethodSendCalls         = "wallet_sendCalls"
	MethodSendPreparedCalls = "wallet_sendPreparedCalls"
	MethodPersonalSign      = "personal_sign"
	MethodSignTypedDataV4   = "eth_signTypedData_v4"
)

type handlerFunc func(ctx context.Context, params []interface{}) (interface{}, error)

func (s *SubAccountSigner) handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		MethodAddSubAccount:     s.addSubAccount,
		MethodAccounts:          s.accounts,
		MethodCoinbase:          s.coinbase,
		MethodNetVersion:        s.netVersion,
		MethodChainID:           s.chainIDHex,
		MethodSendTransaction:   s.sendTransaction,
		MethodSendCalls:         s.sendCalls,
		MethodSendPreparedCalls: s.sendPreparedCalls,
		MethodPersonalSign:      s.personalSign,
		MethodSignTypedDataV4:   s.signTypedDataV4,
	}
}

// SupportedMethods 签名器处理的方法
func SupportedMethods() []string {
	return []string{
		MethodAddSubAccount, MethodAccounts, MethodCoinbase, MethodNetVersion, MethodChainID,
		MethodSendTransaction, MethodSendCalls, MethodSendPreparedCalls,
		MethodPersonalSign, MethodSignTypedDataV4,
	}
}

func (s *SubAccountSigner) addSubAccount(context.Context, []interface{}) (interface{}, error) {
	return s.subAccount.Clone(), nil
}

func (s *SubAccountSigner) accounts(context.Context, []interface{}) (interface{}, error) {
	return []common.Address{s.subAccount.Address}, nil
}

func (s *SubAccountSigner) coinbase(context.Context, []interface{}) (interface{}, error) {
	return s.subAccount.Address, nil
}

func (s *SubAccountSigner) netVersion(context.Context, []interface{}) (interface{}, error) {
	return strconv.FormatUint(s.chainID, 10), nil
}

func (s *SubAccountSigner) chainIDHex(context.Context, []interface{}) (interface{}, error) {
	return hexutil.EncodeUint64(s.chainID), nil
}

// sendTransaction 提交单个调用并等待回执，返回链上交易哈希
func (s *SubAccountSigner) sendTransaction(ctx context.Context, params []interface{}) (interface{}, error) {
	if err := requireParams(params); err != nil {
		return nil, err
	}
	var tx callParams
	if err := decodeParam(params[0], &tx); err != nil {
		return nil, err
	}
	call, err := tx.toCall("")
	if err != nil {
		return nil, err
	}

	b, err := s.bundler(s.chainID)
	if err != nil {
		return nil, err
	}
	pm, err := s.paymaster(tx.Capabilities)
	if err != nil {
		return nil, err
	}
	if c, ok := pm.(io.Closer); ok {
		defer c.Close()
	}

	calls, err := spendpermission.ComposeCalls(call, s.store.SpendPermission())
	if err != nil {
		return nil, err
	}

	hash, err := s.submit(ctx, b, s.chainID, calls, pm)
	if err != nil {
		return nil, err
	}
	s.opts.logger.Info("Waiting for user operation receipt", "userOpHash", hash)

	receipt, err := b.WaitForUserOperationReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	return receipt.Receipt.TransactionHash.Hex(), nil
}

// sendCalls 提交一批调用，返回 userOpHash，不等待回执
func (s *SubAccountSigner) sendCalls(ctx context.Context, params []interface{}) (interface{}, error) {
	if err := requireParams(params); err != nil {
		return nil, err
	}
	var req sendCallsParams
	if err := decodeParam(params[0], &req); err != nil {
		return nil, err
	}

	chainID := req.ChainID.toBig()
	if chainID == nil {
		return nil, notFoundParam("chainId")
	}
	if !chainID.IsUint64() || chainID.Uint64() != s.chainID {
		return nil, types.NewInvalidParamsError(fmt.Sprintf("chainId %s does not match signer chain %d", chainID, s.chainID))
	}
	if len(req.Calls) == 0 {
		return nil, types.NewInvalidParamsError("calls are required")
	}
	batch := make([]types.Call, len(req.Calls))
	for i, p := range req.Calls {
		call, err := p.toCall(fmt.Sprintf("calls[%d].", i))
		if err != nil {
			return nil, err
		}
		batch[i] = call
	}

	b, err := s.bundler(s.chainID)
	if err != nil {
		return nil, err
	}
	pm, err := s.paymaster(req.Capabilities)
	if err != nil {
		return nil, err
	}
	if c, ok := pm.(io.Closer); ok {
		defer c.Close()
	}

	calls, err := spendpermission.ComposeBatch(batch, s.store.SpendPermission())
	if err != nil {
		return nil, err
	}

	hash, err := s.submit(ctx, b, s.chainID, calls, pm)
	if err != nil {
		return nil, err
	}
	return hash.Hex(), nil
}

func (s *SubAccountSigner) sendPreparedCalls(context.Context, []interface{}) (interface{}, error) {
	return nil, types.NewNotImplementedError(MethodSendPreparedCalls)
}

func (s *SubAccountSigner) personalSign(ctx context.Context, params []interface{}) (interface{}, error) {
	if err := requireParams(params); err != nil {
		return nil, err
	}
	message, err := messageBytes(params[0])
	if err != nil {
		return nil, err
	}
	sig, err := s.account.SignMessage(ctx, message)
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(sig), nil
}

// signTypedDataV4 params: [address, typedData]，typedData 可以是 JSON 字符串或对象
func (s *SubAccountSigner) signTypedDataV4(ctx context.Context, params []interface{}) (interface{}, error) {
	if err := requireParams(params); err != nil {
		return nil, err
	}
	if len(params) < 2 {
		return nil, types.NewInvalidParamsError("typed data is required")
	}
	var typedData apitypes.TypedData
	if err := decodeParam(params[1], &typedData); err != nil {
		return nil, err
	}
	sig, err := s.account.SignTypedData(ctx, typedData)
	if err != nil {
		return nil, err
	}
	return hexutil.Encode(sig), nil
}

func (s *SubAccountSigner) submit(ctx context.Context, b chains.Bundler, chainID uint64, calls []types.Call, pm bundler.Paymaster) (common.Hash, error) {
	hash, err := b.SendUserOperation(ctx, s.account, calls, pm)
	s.opts.metrics.ObserveUserOperation(strconv.FormatUint(chainID, 10), err)
	if err != nil {
		return common.Hash{}, err
	}
	s.opts.logger.Info("User operation sent", "chainId", chainID, "calls", len(calls), "userOpHash", hash)
	return hash, nil
}

// bundler 缺失 bundler 属于前置条件缺失，错误码与参数错误相同
func (s *SubAccountSigner) bundler(chainID uint64) (chains.Bundler, error) {
	b, ok := s.chains.Bundler(chainID)
	if !ok {
		return nil, notFoundParam("bundler client")
	}
	return b, nil
}

// paymaster 请求未携带 paymasterService 时返回 nil
func (s *SubAccountSigner) paymaster(caps *capabilities) (bundler.Paymaster, error) {
	if caps == nil || caps.PaymasterService == nil || caps.PaymasterService.URL == "" {
		return nil, nil
	}
	pm, err := s.opts.paymasterFactory(caps.PaymasterService.URL, caps.PaymasterService.Context)
	if err != nil {
		return nil, types.NewInvalidParamsError(fmt.Sprintf("paymaster service: %v", err))
	}
	return pm, nil
}

func notFoundParam(what string) *types.ProviderError {
	e := types.NewNotFoundError(what)
	e.Code = types.CodeInvalidParams
	return e
}

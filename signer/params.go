package signer

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/weisyn/subaccount-sdk-go/types"
)

// RequestArguments 钱包 provider 请求（EIP-1193）
type RequestArguments struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params,omitempty"`
}

// quantity 接受 0x 十六进制字符串、十进制字符串或整数 JSON 数字
// 超过 2^53 的数值必须以字符串传入，见 checkNumbers
type quantity big.Int

func (q *quantity) UnmarshalJSON(input []byte) error {
	s := strings.Trim(strings.TrimSpace(string(input)), `"`)
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid quantity %q", s)
	}
	*q = quantity(*v)
	return nil
}

func (q *quantity) toBig() *big.Int {
	if q == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(q))
}

type paymasterService struct {
	URL     string                 `json:"url"`
	Context map[string]interface{} `json:"context,omitempty"`
}

type capabilities struct {
	PaymasterService *paymasterService `json:"paymasterService,omitempty"`
}

// callParams eth_sendTransaction 参数与 wallet_sendCalls 中的单个调用
type callParams struct {
	To           *common.Address `json:"to"`
	Data         hexutil.Bytes   `json:"data,omitempty"`
	Value        *quantity       `json:"value,omitempty"`
	Capabilities *capabilities   `json:"capabilities,omitempty"`
}

// toCall path 用于错误信息中定位字段
func (p callParams) toCall(path string) (types.Call, error) {
	if p.To == nil {
		return types.Call{}, types.NewInvalidParamsError(path + "to is required")
	}
	call := types.Call{To: *p.To, Data: p.Data}
	if v := p.Value.toBig(); v != nil {
		call.Value = (*hexutil.Big)(v)
	}
	return call, nil
}

// sendCallsParams wallet_sendCalls 参数（EIP-5792）
type sendCallsParams struct {
	Version      string          `json:"version,omitempty"`
	From         *common.Address `json:"from,omitempty"`
	ChainID      *quantity       `json:"chainId"`
	Calls        []callParams    `json:"calls"`
	Capabilities *capabilities   `json:"capabilities,omitempty"`
}

// requireParams 需要位置参数的方法先校验参数非空
func requireParams(params []interface{}) error {
	if len(params) == 0 {
		return types.NewInvalidParamsError("params are required")
	}
	return nil
}

// maxExactFloat float64 能精确表示的最大整数
const maxExactFloat = 1 << 53

// checkNumbers 拒绝已丢失精度的 float64：非整数或绝对值超过 2^53
// json.Number 原样保留，不受此限制
func checkNumbers(v interface{}) error {
	switch val := v.(type) {
	case float64:
		if val > maxExactFloat || val < -maxExactFloat || float64(int64(val)) != val {
			return types.NewInvalidParamsError(fmt.Sprintf("numeric value %v is not an exact integer, pass it as a hex or decimal string", val))
		}
	case map[string]interface{}:
		for _, item := range val {
			if err := checkNumbers(item); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range val {
			if err := checkNumbers(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeParam 将已解码的 JSON 值（map、字符串或结构体）转换为目标类型
func decodeParam(param interface{}, out interface{}) error {
	raw, ok := param.(json.RawMessage)
	if !ok {
		if s, isString := param.(string); isString {
			raw = json.RawMessage(s)
		} else {
			if err := checkNumbers(param); err != nil {
				return err
			}
			var err error
			if raw, err = json.Marshal(param); err != nil {
				return types.NewInvalidParamsError(fmt.Sprintf("encode param: %v", err))
			}
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewInvalidParamsError(fmt.Sprintf("decode param: %v", err))
	}
	return nil
}

// messageBytes personal_sign 载荷：0x 十六进制视为原始字节，其余按 UTF-8 文本
func messageBytes(param interface{}) ([]byte, error) {
	s, ok := param.(string)
	if !ok {
		return nil, types.NewInvalidParamsError("message must be a string")
	}
	if has0x(s) {
		if b, err := hexutil.Decode(s); err == nil {
			return b, nil
		}
	}
	return []byte(s), nil
}

func has0x(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func chainIDBig(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

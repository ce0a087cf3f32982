package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	// KindNotFound 必需的上下文缺失（client、subaccount、owner、factory data、bundler client ...）
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindInvalidParams 方法参数缺失或格式错误
	KindInvalidParams ErrorKind = "INVALID_PARAMS"
	// KindMethodNotSupported 方法不在支持范围内
	KindMethodNotSupported ErrorKind = "METHOD_NOT_SUPPORTED"
	// KindNotImplemented 方法已识别但尚未实现
	KindNotImplemented ErrorKind = "NOT_IMPLEMENTED"
)

// EIP-1474 错误码
const (
	CodeInvalidParams      = -32602
	CodeInternal           = -32603
	CodeMethodNotSupported = -32004
)

// ProviderError 钱包 provider 错误
// 通过 errors.Is 与 ErrNotFound 等哨兵比较，只比较 Kind
type ProviderError struct {
	Kind    ErrorKind
	Code    int
	Message string
	Data    interface{}
	TraceID string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (code=%d)", e.Kind, e.Message, e.Code)
}

// Is 支持 errors.Is(err, types.ErrInvalidParams)
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 哨兵错误
var (
	ErrNotFound           = &ProviderError{Kind: KindNotFound}
	ErrInvalidParams      = &ProviderError{Kind: KindInvalidParams}
	ErrMethodNotSupported = &ProviderError{Kind: KindMethodNotSupported}
	ErrNotImplemented     = &ProviderError{Kind: KindNotImplemented}
)

func newProviderError(kind ErrorKind, code int, message string) *ProviderError {
	return &ProviderError{
		Kind:    kind,
		Code:    code,
		Message: message,
		TraceID: uuid.New().String(),
	}
}

// NewNotFoundError 必需输入缺失
func NewNotFoundError(what string) *ProviderError {
	return newProviderError(KindNotFound, CodeInternal, what+" not found")
}

// NewInvalidParamsError 参数错误
func NewInvalidParamsError(message string) *ProviderError {
	return newProviderError(KindInvalidParams, CodeInvalidParams, message)
}

// NewMethodNotSupportedError 方法不支持
func NewMethodNotSupportedError(method string) *ProviderError {
	e := newProviderError(KindMethodNotSupported, CodeMethodNotSupported, "method not supported")
	e.Data = map[string]interface{}{"method": method}
	return e
}

// NewNotImplementedError 方法未实现
func NewNotImplementedError(method string) *ProviderError {
	e := newProviderError(KindNotImplemented, CodeInternal, "not implemented")
	e.Data = map[string]interface{}{"method": method}
	return e
}

// IsProviderError 检查错误链中是否包含 ProviderError
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

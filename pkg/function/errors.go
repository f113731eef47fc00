package function

import (
	"errors"
	"fmt"
	"strings"
)

// 错误定义
var (
	ErrDuplicateName     = errors.New("function already registered")
	ErrUnknownFunction   = errors.New("unknown function")
	ErrInvalidDescriptor = errors.New("invalid function descriptor")
	ErrNilImplementation = errors.New("function implementation cannot be nil")
	ErrEmptyNamespace    = errors.New("namespace cannot be empty")
)

// ArgumentValidationError 参数不符合描述中的 schema
type ArgumentValidationError struct {
	Function string
	Problems []string
}

func (e *ArgumentValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Function, strings.Join(e.Problems, "; "))
}

// FunctionExecutionError 函数实现返回了错误（包括 panic 和超时）
type FunctionExecutionError struct {
	Function string
	Err      error
}

func (e *FunctionExecutionError) Error() string {
	return fmt.Sprintf("function %s failed: %v", e.Function, e.Err)
}

func (e *FunctionExecutionError) Unwrap() error {
	return e.Err
}

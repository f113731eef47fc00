package function

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KodaTao/PluginKernel/pkg/observability"
)

// DefaultTimeout 默认单次调用超时
const DefaultTimeout = 30 * time.Second

// Executor 函数执行器
// 封装函数执行的通用逻辑，包括超时控制、panic 恢复和日志
type Executor struct {
	timeout time.Duration
}

// NewExecutor 创建函数执行器
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{timeout: timeout}
}

// Timeout 返回超时时间
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute 执行函数实现
// 失败时统一返回 *FunctionExecutionError
func (e *Executor) Execute(ctx context.Context, qualified string, impl Implementation, args map[string]any) (any, error) {
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "function.invoke", attribute.String("function", qualified))

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.executeWithRecover(execCtx, qualified, impl, args)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		err = &FunctionExecutionError{Function: qualified, Err: err}
	}
	observability.FunctionCallLog(ctx, qualified, status, duration.Milliseconds())
	observability.EndSpan(span, err)

	return result, err
}

// executeWithRecover 执行函数并恢复 panic
func (e *Executor) executeWithRecover(ctx context.Context, qualified string, impl Implementation, args map[string]any) (any, error) {
	type outcome struct {
		result any
		err    error
	}

	// 缓冲为 1，超时后 goroutine 仍能写入并退出
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				observability.Error("Function panicked",
					"function", qualified,
					"panic", r,
				)
				out = outcome{err: fmt.Errorf("function panicked: %v", r)}
			}
			done <- out
		}()
		out.result, out.err = impl(ctx, args)
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("function execution aborted: %w", ctx.Err())
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyCompletion 响应中没有可用的 choice
var ErrEmptyCompletion = errors.New("no choices in response")

// CompletionUnavailableError 推理引擎不可达或返回错误
type CompletionUnavailableError struct {
	Provider   string
	StatusCode int // HTTP 状态码，网络错误时为 0
	Err        error
}

func (e *CompletionUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion unavailable (%s, status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("completion unavailable (%s): %v", e.Provider, e.Err)
}

func (e *CompletionUnavailableError) Unwrap() error {
	return e.Err
}

// Temporary 是否值得重试
// 取消与截止时间不重试；4xx 中只有 408/429 重试
func (e *CompletionUnavailableError) Temporary() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

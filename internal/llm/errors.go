package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 大模型调用失败的分类。
// 分类只取决于失败本身，与第几次尝试无关。
type ErrorKind string

const (
	KindMalformedRequest ErrorKind = "malformed_request" // 请求参数或提示词被服务方拒绝
	KindAuthFailure      ErrorKind = "auth_failure"      // API密钥失效或无权限
	KindNotFound         ErrorKind = "not_found"         // 模型或接口不存在
	KindClientError      ErrorKind = "client_error"      // 其他4xx
	KindServerError      ErrorKind = "server_error"      // 5xx，可重试
	KindNetworkError     ErrorKind = "network_error"     // 连接失败、超时、DNS，可重试
	KindRateLimited      ErrorKind = "rate_limited"      // 429，可重试
	KindUnclassified     ErrorKind = "unclassified"      // 未知错误，不假定可重试
	KindRetriesExhausted ErrorKind = "retries_exhausted"
	KindCanceled         ErrorKind = "canceled"
)

// Retryable 该分类是否值得重试
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindServerError, KindNetworkError, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error 网关对外返回的唯一错误类型
type Error struct {
	Kind       ErrorKind
	Attempt    int    // 产生该错误的尝试序号，从1开始
	StatusCode int    // 上游HTTP状态码，没有则为0
	RequestID  string // 上游请求ID，便于排查
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("llm ")
	b.WriteString(string(e.Kind))
	if e.Kind == KindRetriesExhausted {
		fmt.Fprintf(&b, " after %d attempts", e.Attempt)
	} else {
		// Attempt 为0表示失败发生在调用模型之前
		var details []string
		if e.Attempt > 0 {
			details = append(details, fmt.Sprintf("attempt %d", e.Attempt))
		}
		if e.StatusCode != 0 {
			details = append(details, fmt.Sprintf("status %d", e.StatusCode))
		}
		if len(details) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(details, ", "))
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable 是否可重试
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// LastKind 对 retries_exhausted 返回最后一次失败的分类，其余返回自身分类
func (e *Error) LastKind() ErrorKind {
	if e.Kind != KindRetriesExhausted {
		return e.Kind
	}
	var inner *Error
	if errors.As(e.Err, &inner) {
		return inner.Kind
	}
	return e.Kind
}

// KindOf 返回错误链中最外层网关错误的分类，非网关错误返回空字符串
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误是否为指定分类
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// APIError 服务方返回的非成功响应
type APIError struct {
	StatusCode int
	Type       string // 服务方错误类型，例如 invalid_request_error
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("provider returned status %d: %s (%s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// errEmptyCompletion 服务方返回了空文本，按未知错误处理
var errEmptyCompletion = errors.New("provider returned an empty completion")

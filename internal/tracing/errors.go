package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 定义错误类型，便于分类和过滤
type ErrorType string

const (
	// ErrorTypeLLM 大模型调用错误
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeRedis Redis错误
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeValidation 调用方输入或前置条件错误
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout 取消或超时
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypePermission 凭证错误
	ErrorTypePermission ErrorType = "permission"
)

// RecordError 记录错误，添加统一的错误类型和额外属性
func RecordError(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPStatus 记录上游HTTP状态码并按区间分类
func RecordHTTPStatus(span trace.Span, statusCode int) {
	if span == nil || statusCode == 0 {
		return
	}

	var category string
	switch {
	case statusCode >= 400 && statusCode < 500:
		category = "client_error"
	case statusCode >= 500:
		category = "server_error"
	default:
		category = "ok"
	}
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}

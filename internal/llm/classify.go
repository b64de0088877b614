package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
)

// Classify 将底层传输或服务方错误映射到唯一的分类。
// 纯函数：不关心尝试次数，也不读取调用方上下文。
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	// 调用方的截止时间由网关先行判断，这里剩下的只可能是传输层超时
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkError
	}
	if isNetworkError(err) {
		return KindNetworkError
	}
	return KindUnclassified
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return KindMalformedRequest
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthFailure
	case code == http.StatusNotFound:
		return KindNotFound
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500 && code <= 599:
		return KindServerError
	case code >= 400 && code <= 499:
		return KindClientError
	default:
		return KindUnclassified
	}
}

func isNetworkError(err error) bool {
	// *url.Error 本身实现了 net.Error，需要先剥掉它看真正的原因
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

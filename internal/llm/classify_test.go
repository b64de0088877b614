package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := map[int]ErrorKind{
		400: KindMalformedRequest,
		422: KindMalformedRequest,
		401: KindAuthFailure,
		403: KindAuthFailure,
		404: KindNotFound,
		408: KindClientError,
		409: KindClientError,
		429: KindRateLimited,
		500: KindServerError,
		502: KindServerError,
		503: KindServerError,
		599: KindServerError,
		302: KindUnclassified,
	}
	for code, want := range cases {
		got := Classify(&APIError{StatusCode: code})
		assert.Equal(t, want, got, "status %d", code)
	}
}

func TestClassifyTransportErrors(t *testing.T) {
	dnsErr := &net.DNSError{Err: "no such host", Name: "openrouter.invalid", IsNotFound: true}
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	assert.Equal(t, KindNetworkError, Classify(dnsErr))
	assert.Equal(t, KindNetworkError, Classify(opErr))
	assert.Equal(t, KindNetworkError, Classify(&url.Error{Op: "Post", URL: "http://x", Err: opErr}))
	assert.Equal(t, KindNetworkError, Classify(&url.Error{Op: "Post", URL: "http://x", Err: io.ErrUnexpectedEOF}))
	assert.Equal(t, KindNetworkError, Classify(fmt.Errorf("read body: %w", io.EOF)))
	assert.Equal(t, KindNetworkError, Classify(context.DeadlineExceeded))
	assert.Equal(t, KindCanceled, Classify(&url.Error{Op: "Post", URL: "http://x", Err: context.Canceled}))
}

func TestClassifyOther(t *testing.T) {
	assert.Equal(t, ErrorKind(""), Classify(nil))
	assert.Equal(t, KindUnclassified, Classify(errors.New("boom")))
	assert.Equal(t, KindUnclassified, Classify(errEmptyCompletion))
	assert.Equal(t, KindRateLimited, Classify(fmt.Errorf("wrapped: %w", &Error{Kind: KindRateLimited})))
	assert.Equal(t, KindServerError, Classify(fmt.Errorf("wrapped: %w", &APIError{StatusCode: 504})))
}

func TestClassifyIsIndependentOfAttempt(t *testing.T) {
	err := &APIError{StatusCode: 503}
	first := classifyAttempt(context.Background(), 1, err)
	last := classifyAttempt(context.Background(), 5, err)
	assert.Equal(t, first.Kind, last.Kind)
	assert.Equal(t, 503, last.StatusCode)
}

func TestRetryableKinds(t *testing.T) {
	retryable := []ErrorKind{KindServerError, KindNetworkError, KindRateLimited}
	terminal := []ErrorKind{
		KindMalformedRequest, KindAuthFailure, KindNotFound, KindClientError,
		KindUnclassified, KindRetriesExhausted, KindCanceled,
	}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), string(k))
	}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), string(k))
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()

	assert.Equal(t, 500*time.Millisecond, b.Delay(1, 0))
	assert.Equal(t, time.Second, b.Delay(2, 0))
	assert.Equal(t, 2*time.Second, b.Delay(3, 0))
	assert.Equal(t, 4*time.Second, b.Delay(4, 0))
	assert.Equal(t, 8*time.Second, b.Delay(5, 0))
	assert.Equal(t, 8*time.Second, b.Delay(12, 0))
	assert.Equal(t, 500*time.Millisecond, b.Delay(0, 0))

	assert.Equal(t, 750*time.Millisecond, b.Delay(1, 0.5))
	assert.Less(t, b.Delay(5, 0.99999), 8500*time.Millisecond)
	assert.Less(t, b.Delay(5, 3), 8500*time.Millisecond)
	assert.Equal(t, 8*time.Second, b.Delay(5, -1))
}

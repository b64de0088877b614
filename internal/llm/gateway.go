package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"coverletter-agent/internal/ratelimit"
	"coverletter-agent/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxAttempts 首次调用加4次重试
const DefaultMaxAttempts = 5

// RetryObserver 在每次可重试失败、进入退避等待之前被调用。
// 网关本身不打日志，由调用方决定如何记录或告警。
type RetryObserver func(attempt int, err *Error, delay time.Duration)

// Gateway 对单次对话补全调用加上错误分类与退避重试。
// 无状态，可被多个请求并发使用。
type Gateway struct {
	chatModel   model.BaseChatModel
	maxAttempts int
	backoff     Backoff
	limiter     *ratelimit.TokenBucket
	modelOpts   []model.Option
	observer    RetryObserver
	tracer      trace.Tracer

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// GatewayOption 网关配置选项
type GatewayOption func(*Gateway)

// WithMaxAttempts 设置总尝试次数(含首次)
func WithMaxAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBackoff 设置退避参数
func WithBackoff(b Backoff) GatewayOption {
	return func(g *Gateway) {
		if b.Base > 0 && b.Cap >= b.Base {
			g.backoff = b
		}
	}
}

// WithRateLimiter 每次尝试前先从令牌桶取令牌
func WithRateLimiter(tb *ratelimit.TokenBucket) GatewayOption {
	return func(g *Gateway) {
		g.limiter = tb
	}
}

// WithModelOptions 透传给底层模型的调用选项，例如温度
func WithModelOptions(opts ...model.Option) GatewayOption {
	return func(g *Gateway) {
		g.modelOpts = append(g.modelOpts, opts...)
	}
}

// WithRetryObserver 设置重试观察者
func WithRetryObserver(o RetryObserver) GatewayOption {
	return func(g *Gateway) {
		g.observer = o
	}
}

// NewGateway 创建网关
func NewGateway(chatModel model.BaseChatModel, opts ...GatewayOption) (*Gateway, error) {
	if chatModel == nil {
		return nil, errors.New("chat model cannot be nil")
	}
	g := &Gateway{
		chatModel:   chatModel,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff(),
		tracer:      otel.Tracer("coverletter-agent/llm"),
		sleep:       sleepContext,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Invoke 发送一条用户消息并返回模型生成的文本。
// 返回的错误总是 *Error；终止类错误立即返回，可重试错误耗尽后返回 retries_exhausted。
func (g *Gateway) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, span := g.tracer.Start(ctx, "llm.Invoke", trace.WithAttributes(
		attribute.Int("llm.prompt_length", len(prompt)),
		attribute.String("llm.prompt_preview", tracing.SafePrompt(prompt)),
		attribute.Int("llm.max_attempts", g.maxAttempts),
	))
	defer span.End()

	messages := []*schema.Message{schema.UserMessage(prompt)}

	var last *Error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", g.fail(span, &Error{Kind: KindCanceled, Attempt: attempt, Err: err})
			}
		}

		text, err := g.attempt(ctx, messages)
		if err == nil {
			span.SetAttributes(
				attribute.Int("llm.attempts", attempt),
				attribute.Int("llm.completion_length", len(text)),
			)
			return text, nil
		}

		classified := classifyAttempt(ctx, attempt, err)
		span.AddEvent("llm.attempt_failed", trace.WithAttributes(
			attribute.Int("llm.attempt", attempt),
			attribute.String("llm.error_kind", string(classified.Kind)),
			attribute.Int("http.status_code", classified.StatusCode),
		))
		if !classified.Retryable() {
			return "", g.fail(span, classified)
		}
		last = classified
		if attempt == g.maxAttempts {
			break
		}

		delay := g.backoff.Delay(attempt, g.jitter())
		if g.observer != nil {
			g.observer(attempt, classified, delay)
		}
		if err := g.sleep(ctx, delay); err != nil {
			return "", g.fail(span, &Error{Kind: KindCanceled, Attempt: attempt, Err: err})
		}
	}

	return "", g.fail(span, &Error{
		Kind:       KindRetriesExhausted,
		Attempt:    last.Attempt,
		StatusCode: last.StatusCode,
		RequestID:  last.RequestID,
		Err:        last,
	})
}

func (g *Gateway) attempt(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := g.chatModel.Generate(ctx, messages, g.modelOpts...)
	if err != nil {
		return "", err
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", errEmptyCompletion
	}
	return msg.Content, nil
}

func (g *Gateway) fail(span trace.Span, err *Error) *Error {
	errType := tracing.ErrorTypeLLM
	switch err.Kind {
	case KindCanceled:
		errType = tracing.ErrorTypeTimeout
	case KindAuthFailure:
		errType = tracing.ErrorTypePermission
	}
	tracing.RecordHTTPStatus(span, err.StatusCode)
	tracing.RecordError(span, err, errType,
		attribute.String("llm.error_kind", string(err.Kind)),
		attribute.Int("llm.attempts", err.Attempt),
	)
	return err
}

// classifyAttempt 调用方上下文已结束时，无论底层报什么错都视为取消
func classifyAttempt(ctx context.Context, attempt int, err error) *Error {
	kind := Classify(err)
	if ctx.Err() != nil {
		kind = KindCanceled
		if !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}
	classified := &Error{Kind: kind, Attempt: attempt, Err: err}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		classified.StatusCode = apiErr.StatusCode
		classified.RequestID = apiErr.RequestID
	}
	return classified
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

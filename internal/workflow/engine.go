package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coverletter-agent/internal/llm"
	"coverletter-agent/internal/logger"
	"coverletter-agent/internal/prompt"
	"coverletter-agent/internal/state"
	"coverletter-agent/internal/tracing"
	"coverletter-agent/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 分支名，用于日志与追踪
const (
	BranchGenerate = "generate"
	BranchRevise   = "revise"
)

// Invoker 大模型调用入口，*llm.Gateway 实现了该接口
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Engine 求职信生成工作流：决定生成或修改，渲染提示词，调用模型，回写会话状态。
// 引擎本身无共享可变状态，可被并发调用；同一用户的并发请求以最后完成者为准。
type Engine struct {
	gateway  Invoker
	store    state.Store
	renderer *prompt.Renderer
	now      func() time.Time
	log      zerolog.Logger
	tracer   trace.Tracer
}

// Option 引擎配置选项
type Option func(*Engine)

// WithRenderer 替换提示词渲染器
func WithRenderer(r *prompt.Renderer) Option {
	return func(e *Engine) {
		if r != nil {
			e.renderer = r
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger 替换日志记录器
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// NewEngine 创建工作流引擎
func NewEngine(gateway Invoker, store state.Store, opts ...Option) (*Engine, error) {
	if gateway == nil {
		return nil, fmt.Errorf("llm gateway cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("state store cannot be nil")
	}
	e := &Engine{
		gateway:  gateway,
		store:    store,
		renderer: prompt.NewRenderer(),
		now:      time.Now,
		log:      logger.Component("workflow"),
		tracer:   otel.Tracer("coverletter-agent/workflow"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate 为用户生成一封新的求职信，成功后覆盖该用户已有的状态。
// 模型调用失败时原样返回错误，不写入状态。
func (e *Engine) Generate(ctx context.Context, userID string, genCtx types.GenerationContext) (types.GenerationResult, error) {
	ctx, span := e.startSpan(ctx, "workflow.Generate", userID, BranchGenerate)
	defer span.End()

	if err := validateUserID(userID); err != nil {
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeValidation)
	}

	log := e.log.With().Str("user_id", userID).Str("branch", BranchGenerate).Str("vacancy_id", genCtx.Vacancy.ID).Logger()
	log.Debug().Msg("开始生成求职信")

	text, err := e.gateway.Invoke(ctx, e.renderer.RenderGeneration(genCtx))
	if err != nil {
		e.logGatewayFailure(log, err)
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeLLM)
	}

	next := types.WorkItemState{
		UserID:       userID,
		Context:      genCtx.Clone(),
		LastResponse: text,
		UpdatedAt:    e.now(),
	}
	if err := e.store.Save(ctx, userID, next); err != nil {
		err = e.persistenceError(ctx, "save", userID, err)
		log.Error().Err(err).Msg("保存会话状态失败")
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeRedis)
	}

	result := e.buildResult(genCtx, text)
	span.SetAttributes(attribute.String("workflow.result_id", result.ID), attribute.Int("workflow.response_length", len(text)))
	span.SetStatus(codes.Ok, "")
	log.Info().Str("result_id", result.ID).Int("response_length", len(text)).Msg("求职信生成完成")
	return result, nil
}

// Revise 根据用户意见修改上一版回复。
// 没有历史回复时返回 ErrNoPriorGeneration 且不调用模型；
// ctxOverride 非空时优先于已保存的上下文；两者都没有时返回 ErrMissingContext。
func (e *Engine) Revise(ctx context.Context, userID, userComments string, ctxOverride *types.GenerationContext) (types.GenerationResult, error) {
	ctx, span := e.startSpan(ctx, "workflow.Revise", userID, BranchRevise)
	defer span.End()

	if err := validateUserID(userID); err != nil {
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeValidation)
	}
	if strings.TrimSpace(userComments) == "" {
		return types.GenerationResult{}, e.fail(span, fmt.Errorf("%w: revision comments are empty", ErrInvalidRequest), tracing.ErrorTypeValidation)
	}

	log := e.log.With().Str("user_id", userID).Str("branch", BranchRevise).Logger()

	prior, found, err := e.store.Load(ctx, userID)
	if err != nil {
		err = e.persistenceError(ctx, "load", userID, err)
		log.Error().Err(err).Msg("读取会话状态失败")
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeRedis)
	}
	if !found || !prior.HasResponse() {
		log.Warn().Bool("state_found", found).Msg("没有可修改的历史回复")
		return types.GenerationResult{}, e.fail(span, ErrNoPriorGeneration, tracing.ErrorTypeValidation)
	}

	genCtx := prior.Context
	contextSource := "stored"
	if ctxOverride != nil {
		genCtx = ctxOverride
		contextSource = "override"
	}
	if genCtx == nil {
		log.Warn().Msg("会话上下文已过期且调用方未重新提供")
		return types.GenerationResult{}, e.fail(span, ErrMissingContext, tracing.ErrorTypeValidation)
	}
	span.SetAttributes(attribute.String("workflow.context_source", contextSource))
	log = log.With().Str("context_source", contextSource).Str("vacancy_id", genCtx.Vacancy.ID).Logger()
	log.Debug().Msg("开始修改求职信")

	text, err := e.gateway.Invoke(ctx, e.renderer.RenderRevision(*genCtx, prior.LastResponse, userComments))
	if err != nil {
		e.logGatewayFailure(log, err)
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeLLM)
	}

	next := types.WorkItemState{
		UserID:           userID,
		Context:          genCtx.Clone(),
		LastResponse:     text,
		LastUserComments: userComments,
		UpdatedAt:        e.now(),
	}
	if err := e.store.Save(ctx, userID, next); err != nil {
		err = e.persistenceError(ctx, "save", userID, err)
		log.Error().Err(err).Msg("保存会话状态失败")
		return types.GenerationResult{}, e.fail(span, err, tracing.ErrorTypeRedis)
	}

	result := e.buildResult(*genCtx, text)
	span.SetAttributes(attribute.String("workflow.result_id", result.ID), attribute.Int("workflow.response_length", len(text)))
	span.SetStatus(codes.Ok, "")
	log.Info().Str("result_id", result.ID).Int("response_length", len(text)).Msg("求职信修改完成")
	return result, nil
}

// Discard 丢弃用户的会话状态，通常在用户确认发送最终版本之后调用
func (e *Engine) Discard(ctx context.Context, userID string) error {
	ctx, span := e.startSpan(ctx, "workflow.Discard", userID, "")
	defer span.End()

	if err := validateUserID(userID); err != nil {
		return e.fail(span, err, tracing.ErrorTypeValidation)
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		err = e.persistenceError(ctx, "delete", userID, err)
		e.log.Error().Err(err).Str("user_id", userID).Msg("删除会话状态失败")
		return e.fail(span, err, tracing.ErrorTypeRedis)
	}
	e.log.Debug().Str("user_id", userID).Msg("会话状态已删除")
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name, userID, branch string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow.user_id", tracing.SafeAttributeValue("workflow.user_id", userID, tracing.DefaultMaxLength)),
	}
	if branch != "" {
		attrs = append(attrs, attribute.String("workflow.branch", branch))
	}
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) fail(span trace.Span, err error, errType tracing.ErrorType) error {
	tracing.RecordError(span, err, errType)
	return err
}

// persistenceError 调用方上下文已结束时按取消处理，否则归为存储不可用
func (e *Engine) persistenceError(ctx context.Context, op, userID string, err error) error {
	if ctx.Err() != nil {
		return &llm.Error{Kind: llm.KindCanceled, Err: fmt.Errorf("workflow state %s: %w", op, err)}
	}
	return &PersistenceError{Op: op, UserID: userID, Err: err}
}

func (e *Engine) logGatewayFailure(log zerolog.Logger, err error) {
	event := log.Warn()
	if llm.IsKind(err, llm.KindAuthFailure) {
		// 密钥失效需要人工处理
		event = log.Error()
	}
	event.Err(err).Str("error_kind", string(llm.KindOf(err))).Msg("大模型调用失败，会话状态保持不变")
}

func (e *Engine) buildResult(genCtx types.GenerationContext, text string) types.GenerationResult {
	return types.GenerationResult{
		ID:          uuid.NewString(),
		VacancyRef:  genCtx.Vacancy.ID,
		ResumeRef:   genCtx.Resume.ID,
		VacancyURL:  genCtx.Vacancy.URL,
		MessageText: text,
		GeneratedAt: e.now(),
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidRequest)
	}
	return nil
}

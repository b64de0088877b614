package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coverletter-agent/internal/config"
	"coverletter-agent/internal/constants"
	"coverletter-agent/internal/llm"
	"coverletter-agent/internal/logger"
	"coverletter-agent/internal/prompt"
	"coverletter-agent/internal/ratelimit"
	"coverletter-agent/internal/state"
	"coverletter-agent/internal/storage"
	"coverletter-agent/internal/tracing"
	"coverletter-agent/internal/types"
	"coverletter-agent/internal/workflow"

	"github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var version = "1.0.0" //nolint:gochecknoglobals

// 运行模式
const (
	modeGenerate = "generate"
	modeRevise   = "revise"
	modeDiscard  = "discard"
)

func main() {
	os.Exit(realMain())
}

// realMain 返回进程退出码，保证 defer 在退出前执行
func realMain() int {
	var (
		configPath  string
		mode        string
		userID      string
		contextPath string
		comments    string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file (default: search config.yaml)")
	pflag.StringVarP(&mode, "mode", "m", modeGenerate, "generate | revise | discard")
	pflag.StringVarP(&userID, "user", "u", "", "User id the conversation state is kept under")
	pflag.StringVar(&contextPath, "context", "", "YAML file with vacancy/resume/employer/rules")
	pflag.StringVar(&comments, "comments", "", "Revision comments (revise mode)")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}
	initLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, version)
	if err != nil {
		logger.Error().Err(err).Msg("初始化链路追踪失败")
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	engine, cleanup, err := buildEngine(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("初始化工作流失败")
		return 1
	}
	defer cleanup()

	if err := run(ctx, engine, mode, userID, contextPath, comments, os.Stdout); err != nil {
		logger.Error().Err(err).Str("mode", mode).Str("user_id", userID).Msg(userFacingMessage(err))
		return 1
	}
	return 0
}

// initLogger 日志输出到标准错误，标准输出留给结果JSON
func initLogger(cfg *config.Config) {
	logConfig := logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	}
	logger.Logger = logger.New(os.Stderr, logConfig).With().
		Str("service", constants.AppName).
		Str("version", version).
		Logger()
	log.Logger = logger.Logger
}

// buildEngine 按配置组装存储、模型网关与工作流引擎
func buildEngine(cfg *config.Config) (*workflow.Engine, func(), error) {
	cleanup := func() {}
	ttl := config.GetDuration(cfg.Workflow.StateTTL, constants.DefaultStateTTL)

	var store state.Store
	switch cfg.Workflow.StateBackend {
	case "memory":
		store = state.NewMemoryStore(ttl)
		logger.Warn().Msg("使用内存会话存储，进程退出后状态丢失")
	default:
		rdb, err := storage.NewRedisAdapter(&cfg.Redis)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("关闭Redis连接失败")
			}
		}
		store, err = state.NewRedisStore(rdb, constants.KeyWorkflowStatePrefix, ttl)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		logger.Info().Str("address", cfg.Redis.Address).Dur("ttl", ttl).Msg("Redis会话存储初始化成功")
	}

	temperature := float32(*cfg.LLM.Temperature)
	chatModel, err := llm.NewOpenAIChatModel(llm.OpenAIChatModelConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: &temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     config.GetDuration(cfg.LLM.RequestTimeout, 60*time.Second),
	})
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	gwLog := logger.Component("llm")
	gwOpts := []llm.GatewayOption{
		llm.WithMaxAttempts(cfg.LLM.MaxAttempts),
		llm.WithBackoff(llm.Backoff{
			Base: config.GetDuration(cfg.LLM.BackoffBase, llm.DefaultBackoff().Base),
			Cap:  config.GetDuration(cfg.LLM.BackoffCap, llm.DefaultBackoff().Cap),
		}),
		llm.WithModelOptions(model.WithTemperature(temperature)),
		llm.WithRetryObserver(func(attempt int, err *llm.Error, delay time.Duration) {
			gwLog.Warn().
				Int("attempt", attempt).
				Str("error_kind", string(err.Kind)).
				Int("status", err.StatusCode).
				Str("request_id", err.RequestID).
				Dur("backoff", delay).
				Err(err.Err).
				Msg("大模型调用失败，准备重试")
		}),
	}
	if qpm := cfg.QPMForModel(cfg.LLM.Model); qpm > 0 {
		gwOpts = append(gwOpts, llm.WithRateLimiter(ratelimit.NewTokenBucket(qpm, 0)))
		gwLog.Info().Str("model", cfg.LLM.Model).Int("qpm", qpm).Msg("已启用模型限流")
	}

	gateway, err := llm.NewGateway(chatModel, gwOpts...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	renderer := prompt.NewRenderer(
		prompt.WithGenerationTemplate(cfg.Prompt.GenerationTemplate),
		prompt.WithRevisionTemplate(cfg.Prompt.RevisionTemplate),
	)
	engine, err := workflow.NewEngine(gateway, store, workflow.WithRenderer(renderer))
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return engine, cleanup, nil
}

// run 执行一次工作流调用，并把结果以JSON写到 out
func run(ctx context.Context, engine *workflow.Engine, mode, userID, contextPath, comments string, out io.Writer) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	var genCtx *types.GenerationContext
	if contextPath != "" {
		loaded, err := loadContextFile(contextPath)
		if err != nil {
			return err
		}
		genCtx = loaded
	}

	var (
		result types.GenerationResult
		err    error
	)
	switch strings.ToLower(mode) {
	case modeGenerate:
		if genCtx == nil {
			return fmt.Errorf("--context is required in generate mode")
		}
		result, err = engine.Generate(ctx, userID, *genCtx)
	case modeRevise:
		result, err = engine.Revise(ctx, userID, comments, genCtx)
	case modeDiscard:
		if err := engine.Discard(ctx, userID); err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, `{"discarded":true}`)
		return err
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// loadContextFile 读取YAML格式的生成上下文
func loadContextFile(path string) (*types.GenerationContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取上下文文件失败: %w", err)
	}
	var genCtx types.GenerationContext
	if err := yaml.Unmarshal(data, &genCtx); err != nil {
		return nil, fmt.Errorf("解析上下文文件失败: %w", err)
	}
	if strings.TrimSpace(genCtx.Vacancy.Title) == "" && strings.TrimSpace(genCtx.Vacancy.Description) == "" {
		return nil, fmt.Errorf("上下文文件 %s 缺少岗位信息", path)
	}
	return &genCtx, nil
}

// userFacingMessage 把错误分类映射为给用户看的提示
func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, workflow.ErrNoPriorGeneration), errors.Is(err, workflow.ErrMissingContext):
		return "please provide the vacancy again"
	case errors.Is(err, workflow.ErrPersistenceUnavailable):
		return "state storage unavailable, retry the request"
	}
	switch e := llmErr(err); {
	case e == nil:
		return "request failed"
	case e.Kind == llm.KindAuthFailure:
		return "service misconfigured, contact support"
	case e.Kind == llm.KindCanceled:
		return "request canceled"
	case e.LastKind().Retryable():
		return "model unavailable, try again shortly"
	default:
		return "request failed"
	}
}

func llmErr(err error) *llm.Error {
	var e *llm.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

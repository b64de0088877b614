package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"coverletter-agent/internal/config"
	"coverletter-agent/internal/constants"
	"coverletter-agent/internal/tracing"

	"github.com/redis/go-redis/extra/redisotel/v9" // Redis OpenTelemetry钩子
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when a key is not found in Redis.
// It wraps the underlying redis.Nil error for abstraction.
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("coverletter-agent/storage/redis")

// 按键前缀的span采样率，redisotel 已经记录了每条命令，这里只补充业务层属性
var redisKeySamplingRates = map[string]float64{
	constants.KeyWorkflowStatePrefix: 1.0,
}

// shouldSampleRedisOp 根据key前缀决定是否需要创建span
func shouldSampleRedisOp(key string) bool {
	if key == "" {
		return false
	}
	for prefix, rate := range redisKeySamplingRates {
		if strings.HasPrefix(key, prefix) {
			return rand.Float64() < rate
		}
	}
	// 默认采样率5%
	return rand.Float64() < 0.05
}

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 按配置创建连接池，挂上 OpenTelemetry 钩子并检查连通性
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		// 重试设置
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,

		// 连接生命周期
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}

	client := redis.NewClient(opt)

	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// FormatKey 拼接键前缀与动态部分
func (r *Redis) FormatKey(prefix string, parts ...string) string {
	return prefix + strings.Join(parts, ":")
}

func startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	if !shouldSampleRedisOp(key) {
		return ctx, nil
	}
	ctx, span := redisTracer.Start(ctx, "Redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", strings.ToUpper(op)),
		attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
	)
	return ctx, span
}

// Get 获取键的值，键不存在时返回 ErrNotFound
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := startSpan(ctx, "Get", key)
	if span != nil {
		defer span.End()
	}

	val, err := r.Client.Get(ctx, key).Result()

	if span != nil {
		switch {
		case errors.Is(err, redis.Nil):
			// key不存在不算错误
			span.SetStatus(codes.Ok, "key not found")
			span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		case err != nil:
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		default:
			span.SetAttributes(
				attribute.Bool("db.redis.key_exists", true),
				attribute.Int("db.redis.value_length", len(val)),
			)
			span.SetStatus(codes.Ok, "")
		}
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set 设置键的值，expiration 为0表示不过期。单键覆盖写是原子的。
func (r *Redis) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := startSpan(ctx, "Set", key)
	if span != nil {
		defer span.End()
		span.SetAttributes(attribute.Int("db.redis.value_length", len(value)))
		if expiration > 0 {
			span.SetAttributes(attribute.Int64("db.redis.expiration_ms", expiration.Milliseconds()))
		}
	}

	err := r.Client.Set(ctx, key, value, expiration).Err()

	if span != nil {
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

// Del 删除键，键不存在时静默成功
func (r *Redis) Del(ctx context.Context, key string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	ctx, span := startSpan(ctx, "Del", key)
	if span != nil {
		defer span.End()
	}

	err := r.Client.Del(ctx, key).Err()
	if span != nil {
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return err
}

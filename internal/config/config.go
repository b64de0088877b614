package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"coverletter-agent/internal/constants"

	"gopkg.in/yaml.v3"
)

// RedisConfig holds configuration for Redis
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// 连接池设置
	PoolSize     int `yaml:"pool_size"`      // 连接池大小
	MinIdleConns int `yaml:"min_idle_conns"` // 最小空闲连接数
	// 超时设置
	DialTimeoutSeconds  int `yaml:"dial_timeout_seconds"`  // 连接超时(秒)
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`  // 读取超时(秒)
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"` // 写入超时(秒)
	// 重试设置
	MaxRetries        int `yaml:"max_retries"`          // 最大重试次数
	MinRetryBackoffMS int `yaml:"min_retry_backoff_ms"` // 最小重试间隔(毫秒)
	MaxRetryBackoffMS int `yaml:"max_retry_backoff_ms"` // 最大重试间隔(毫秒)
	// 连接生命周期
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`  // 连接最大生命周期(分钟)
	ConnMaxIdleTimeMinutes int `yaml:"conn_max_idle_time_minutes"` // 空闲连接最大生命周期(分钟)
}

// LLMConfig OpenAI 兼容的对话补全服务配置
type LLMConfig struct {
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"` // 例如 https://openrouter.ai/api/v1
	Model          string   `yaml:"model"`
	Temperature    *float64 `yaml:"temperature"` // 未配置时取默认值，0 为合法取值
	MaxTokens      int      `yaml:"max_tokens"`
	RequestTimeout string   `yaml:"request_timeout"` // 单次HTTP请求超时，例如 "60s"
	// 重试策略
	MaxAttempts int    `yaml:"max_attempts"` // 总尝试次数(含首次)
	BackoffBase string `yaml:"backoff_base"` // 例如 "500ms"
	BackoffCap  string `yaml:"backoff_cap"`  // 例如 "8s"
	QPM         int    `yaml:"qpm"`          // 每分钟请求数限制，0 表示按 model_qpm_limits 或不限流
}

// WorkflowConfig 回复生成工作流配置
type WorkflowConfig struct {
	StateBackend string `yaml:"state_backend"` // redis | memory
	StateTTL     string `yaml:"state_ttl"`     // 会话状态过期时间，例如 "60m"，"0" 表示不过期
}

// PromptConfig 提示词模板覆盖，空字符串表示使用内置模板
type PromptConfig struct {
	GenerationTemplate string `yaml:"generation_template"`
	RevisionTemplate   string `yaml:"revision_template"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC 地址，空表示不导出
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Config 应用程序配置
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracing  TracingConfig  `yaml:"tracing"`

	// 模型QPM限制配置
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// LoadConfig 从文件加载配置。
// configPath 为空时按常见位置查找 config.yaml，找不到则使用默认配置。
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".coverletter-agent", "config.yaml"),
		}
		if execPath, err := os.Executable(); err == nil {
			searchPaths = append(searchPaths, filepath.Join(filepath.Dir(execPath), "config.yaml"))
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
		if configPath == "" {
			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Parse 解析YAML内容并补齐默认值，不读取环境变量
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig 返回一份完整的默认配置
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = constants.DefaultLLMBaseURL
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "openai/gpt-4o-mini"
	}
	if cfg.LLM.Temperature == nil {
		temperature := constants.DefaultLLMTemperature
		cfg.LLM.Temperature = &temperature
	}
	if cfg.LLM.RequestTimeout == "" {
		cfg.LLM.RequestTimeout = "60s"
	}
	if cfg.LLM.MaxAttempts <= 0 {
		cfg.LLM.MaxAttempts = 5
	}
	if cfg.LLM.BackoffBase == "" {
		cfg.LLM.BackoffBase = "500ms"
	}
	if cfg.LLM.BackoffCap == "" {
		cfg.LLM.BackoffCap = "8s"
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 2
	}
	if cfg.Redis.DialTimeoutSeconds == 0 {
		cfg.Redis.DialTimeoutSeconds = 5
	}
	if cfg.Redis.ReadTimeoutSeconds == 0 {
		cfg.Redis.ReadTimeoutSeconds = 3
	}
	if cfg.Redis.WriteTimeoutSeconds == 0 {
		cfg.Redis.WriteTimeoutSeconds = 3
	}
	if cfg.Redis.MaxRetries == 0 {
		cfg.Redis.MaxRetries = 3
	}
	if cfg.Redis.MinRetryBackoffMS == 0 {
		cfg.Redis.MinRetryBackoffMS = 8
	}
	if cfg.Redis.MaxRetryBackoffMS == 0 {
		cfg.Redis.MaxRetryBackoffMS = 512
	}
	if cfg.Redis.ConnMaxLifetimeMinutes == 0 {
		cfg.Redis.ConnMaxLifetimeMinutes = 60
	}
	if cfg.Redis.ConnMaxIdleTimeMinutes == 0 {
		cfg.Redis.ConnMaxIdleTimeMinutes = 30
	}

	if cfg.Workflow.StateBackend == "" {
		cfg.Workflow.StateBackend = "redis"
	}
	if cfg.Workflow.StateTTL == "" {
		cfg.Workflow.StateTTL = constants.DefaultStateTTL.String()
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "pretty" // 开发环境默认使用美化输出
	}
	if cfg.Logger.TimeFormat == "" {
		cfg.Logger.TimeFormat = time.RFC3339
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

// applyEnvOverrides 从环境变量覆盖配置（如果存在）
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("REDIS_ADDRESS"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}

// Validate 校验取值是否可用
func (c *Config) Validate() error {
	switch c.Workflow.StateBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("未知的 workflow.state_backend: %q", c.Workflow.StateBackend)
	}
	for name, raw := range map[string]string{
		"llm.request_timeout": c.LLM.RequestTimeout,
		"llm.backoff_base":    c.LLM.BackoffBase,
		"llm.backoff_cap":     c.LLM.BackoffCap,
		"workflow.state_ttl":  c.Workflow.StateTTL,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("配置项 %s 不是合法的时长 %q: %w", name, raw, err)
		}
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature 超出范围 [0, 2]: %v", *t)
	}
	return nil
}

// QPMForModel 返回模型的限流值。
// 显式配置的 llm.qpm 优先；否则使用 model_qpm_limits 中该模型限制的90%作为安全值。
func (c *Config) QPMForModel(model string) int {
	if c.LLM.QPM > 0 {
		return c.LLM.QPM
	}
	if limit, ok := c.ModelQPMLimits[model]; ok && limit > 0 {
		safe := int(float64(limit) * 0.9)
		if safe < 1 {
			safe = 1
		}
		return safe
	}
	return 0
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}

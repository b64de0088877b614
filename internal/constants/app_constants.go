package constants

import "time"

const (
	// AppName 用于日志与追踪的服务名
	AppName = "coverletter-agent"

	// DefaultStateTTL 会话状态默认过期时间，与原检查点的 60 分钟一致
	DefaultStateTTL = 60 * time.Minute

	// DefaultLLMBaseURL 默认的 OpenAI 兼容网关
	DefaultLLMBaseURL = "https://openrouter.ai/api/v1"
	// DefaultLLMTemperature 兼顾创造性与稳定性
	DefaultLLMTemperature = 0.7
)

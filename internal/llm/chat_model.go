package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coverletter-agent/internal/constants"
	"coverletter-agent/internal/logger"
	"coverletter-agent/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAIChatModelConfig OpenAI 兼容对话补全接口的连接参数
type OpenAIChatModelConfig struct {
	APIKey      string
	BaseURL     string // 例如 https://openrouter.ai/api/v1，会自动拼接 /chat/completions
	Model       string
	Temperature *float32 // nil 时使用默认值，0 表示尽量确定的输出
	MaxTokens   int
	Timeout     time.Duration // 单次HTTP请求超时，0 表示只受调用方上下文约束
	HTTPClient  *http.Client  // 可选，便于复用连接池或测试注入
}

// OpenAIChatModel 实现了 eino 的 model.BaseChatModel，
// 通过任意 OpenAI 兼容接口(OpenRouter、DashScope 兼容模式等)完成对话补全。
// 非2xx响应统一转换为 *APIError，供网关分类。
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	endpoint    string
	temperature float32
	maxTokens   int
	httpClient  *http.Client
}

// NewOpenAIChatModel 创建一个新的 OpenAIChatModel 实例
func NewOpenAIChatModel(cfg OpenAIChatModelConfig) (*OpenAIChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("LLM API key cannot be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("LLM model name cannot be empty")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = constants.DefaultLLMBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		// http.Client 自带连接池，可被并发请求共享
		client = &http.Client{Timeout: cfg.Timeout}
	}

	temperature := float32(constants.DefaultLLMTemperature)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	return &OpenAIChatModel{
		apiKey:      cfg.APIKey,
		modelName:   cfg.Model,
		endpoint:    strings.TrimRight(baseURL, "/") + "/chat/completions",
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  client,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type providerError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *providerError `json:"error,omitempty"`
}

// Generate 实现 model.BaseChatModel 接口
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	maxTokens := m.maxTokens
	options := model.GetCommonOptions(&model.Options{
		Temperature: &m.temperature,
		Model:       &m.modelName,
		MaxTokens:   &maxTokens,
	}, opts...)

	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    make([]chatMessage, 0, len(input)),
		Temperature: options.Temperature,
	}
	if options.Model != nil && *options.Model != "" {
		reqPayload.Model = *options.Model
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		reqPayload.MaxTokens = options.MaxTokens
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		reqPayload.Messages = append(reqPayload.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	requestID := httpResp.Header.Get("X-Request-Id")
	logger.Debug().
		Str("model", reqPayload.Model).
		Int("status", httpResp.StatusCode).
		Str("request_id", requestID).
		Dur("latency", time.Since(start)).
		Msg("LLM 响应")

	var parsed chatCompletionResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, RequestID: requestID}
		if decodeErr == nil && parsed.Error != nil {
			apiErr.Message = parsed.Error.Message
			apiErr.Type = parsed.Error.Type
		} else {
			apiErr.Message = tracing.TruncateString(strings.TrimSpace(string(respBody)), tracing.DefaultMaxLength)
		}
		return nil, apiErr
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", decodeErr)
	}
	if parsed.Error != nil {
		// 部分网关在200中返回错误体，不知道能否重试，按未知错误处理
		return nil, fmt.Errorf("provider error in successful response: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("provider response has no choices")
	}

	out := parsed.Choices[0].Message
	role := schema.RoleType(out.Role)
	if role == "" {
		role = schema.Assistant
	}
	return &schema.Message{Role: role, Content: out.Content}, nil
}

// Stream 实现 model.BaseChatModel 接口，回复生成不需要流式输出
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("OpenAIChatModel does not support streaming")
}

var _ model.BaseChatModel = (*OpenAIChatModel)(nil)

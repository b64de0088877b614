package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatModel(t *testing.T, handler http.HandlerFunc) *OpenAIChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cm, err := NewOpenAIChatModel(OpenAIChatModelConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL + "/api/v1/",
		Model:      "openai/gpt-4o-mini",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return cm
}

func TestNewOpenAIChatModelValidation(t *testing.T) {
	_, err := NewOpenAIChatModel(OpenAIChatModelConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAIChatModel(OpenAIChatModelConfig{APIKey: "k"})
	assert.Error(t, err)

	cm, err := NewOpenAIChatModel(OpenAIChatModelConfig{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "https://openrouter.ai/api/v1/chat/completions", cm.endpoint)
	assert.InDelta(t, 0.7, cm.temperature, 0.0001)
}

func TestChatModelGenerateSuccess(t *testing.T) {
	var captured chatCompletionRequest
	cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"Dear Hiring Manager..."},"finish_reason":"stop"}]}`))
	})

	msg, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hello")}, model.WithTemperature(0.2))
	require.NoError(t, err)
	assert.Equal(t, "Dear Hiring Manager...", msg.Content)
	assert.Equal(t, schema.Assistant, msg.Role)

	assert.Equal(t, "openai/gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "hello", captured.Messages[0].Content)
	require.NotNil(t, captured.Temperature)
	assert.InDelta(t, 0.2, *captured.Temperature, 0.0001)
	assert.Nil(t, captured.MaxTokens)
}

func TestChatModelZeroTemperatureIsSent(t *testing.T) {
	var captured chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	t.Cleanup(srv.Close)

	zero := float32(0)
	cm, err := NewOpenAIChatModel(OpenAIChatModelConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Model:       "openai/gpt-4o-mini",
		Temperature: &zero,
		HTTPClient:  srv.Client(),
	})
	require.NoError(t, err)
	assert.Zero(t, cm.temperature)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hello")})
	require.NoError(t, err)
	require.NotNil(t, captured.Temperature, "温度为0时也要显式发送")
	assert.Zero(t, *captured.Temperature)
}

func TestChatModelModelOverride(t *testing.T) {
	var captured chatCompletionRequest
	cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	})

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")},
		model.WithModel("anthropic/claude-3-haiku"), model.WithMaxTokens(256))
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-haiku", captured.Model)
	require.NotNil(t, captured.MaxTokens)
	assert.Equal(t, 256, *captured.MaxTokens)
}

func TestChatModelErrorEnvelope(t *testing.T) {
	cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-123")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found","type":"authentication_error"}}`))
	})

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "authentication_error", apiErr.Type)
	assert.Equal(t, "No auth credentials found", apiErr.Message)
	assert.Equal(t, "req-123", apiErr.RequestID)
	assert.Equal(t, KindAuthFailure, Classify(err))
}

func TestChatModelNonJSONError(t *testing.T) {
	cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	})

	_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "<html>bad gateway</html>", apiErr.Message)
	assert.Equal(t, KindServerError, Classify(err))
}

func TestChatModelMalformedSuccessBodies(t *testing.T) {
	bodies := []string{
		`not json`,
		`{"choices":[]}`,
		`{"error":{"message":"upstream failed","type":"server_error"}}`,
	}
	for _, body := range bodies {
		cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
		_, err := cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
		require.Error(t, err, body)
		assert.Equal(t, KindUnclassified, Classify(err), body)
	}
}

func TestChatModelThroughGatewayRetriesServerErrors(t *testing.T) {
	var hits int
	cm := newTestChatModel(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"third time lucky"}}]}`))
	})

	g, err := NewGateway(cm, WithBackoff(Backoff{Base: time.Millisecond, Cap: 4 * time.Millisecond}))
	require.NoError(t, err)

	text, err := g.Invoke(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", text)
	assert.Equal(t, 3, hits)
}

func TestChatModelConnectionRefusedIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cm, err := NewOpenAIChatModel(OpenAIChatModelConfig{APIKey: "k", Model: "m", BaseURL: url})
	require.NoError(t, err)

	_, err = cm.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Equal(t, KindNetworkError, Classify(err))
}

func TestChatModelStreamUnsupported(t *testing.T) {
	cm, err := NewOpenAIChatModel(OpenAIChatModelConfig{APIKey: "k", Model: "m"})
	require.NoError(t, err)
	_, err = cm.Stream(context.Background(), nil)
	assert.Error(t, err)
}

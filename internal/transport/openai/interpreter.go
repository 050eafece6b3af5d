package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mailrag/internal/domain"
	"github.com/kailas-cloud/mailrag/internal/metrics"
)

// DefaultSystemPrompt pins the model to JSON output.
const DefaultSystemPrompt = "You are a query parser. Always return valid JSON."

// Interpreter turns a prompt into a JSON object via chat completion in JSON mode.
type Interpreter struct {
	client       *openai.Client
	model        string
	temperature  float32
	systemPrompt string
	provider     string
	logger       *zap.Logger
}

// InterpreterConfig holds the language-understanding provider settings.
type InterpreterConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float32
	SystemPrompt string
	Provider     string
	Logger       *zap.Logger
}

// NewInterpreter creates an OpenAI-compatible chat completion client.
func NewInterpreter(cfg *InterpreterConfig) *Interpreter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	return &Interpreter{
		client:       newClient(cfg.APIKey, cfg.BaseURL),
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		systemPrompt: system,
		provider:     cfg.Provider,
		logger:       logger,
	}
}

// Interpret returns the raw JSON text produced for prompt.
func (i *Interpreter) Interpret(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: i.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: i.systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: i.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := i.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.InterpreterRequestsTotal.WithLabelValues(i.provider, i.model, "error").Inc()
		return "", parseAPIError("interpreter", err, domain.ErrInterpreterError)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.InterpreterRequestsTotal.WithLabelValues(i.provider, i.model, "error").Inc()
		return "", fmt.Errorf("empty completion: %w", domain.ErrInterpreterError)
	}

	metrics.InterpreterRequestsTotal.WithLabelValues(i.provider, i.model, "success").Inc()
	metrics.InterpreterRequestDuration.WithLabelValues(i.provider, i.model).Observe(duration.Seconds())
	i.logger.Debug("Query interpreted",
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

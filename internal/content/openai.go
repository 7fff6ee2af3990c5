package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/capylingo/internal/domain"
)

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint (DeepSeek by default).
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIClient generates content and judges answers through chat completions.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a client. The API key is required.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("content API key is not set")
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if logger == nil {
		logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger.Info("initializing content client", "base_url", oc.BaseURL, "model", cfg.Model)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// GenerateExercise implements Generator.
func (c *OpenAIClient) GenerateExercise(ctx context.Context, req domain.ExerciseRequest) (domain.Exercise, error) {
	text, err := c.complete(ctx, exerciseSystemPrompt, exercisePrompt(req), 0.8, 500, true)
	if err != nil {
		return domain.Exercise{}, fmt.Errorf("generate exercise: %w", err)
	}
	ex, err := DecodeExercise(text)
	if err != nil {
		c.logger.Warn("exercise payload rejected", "topic", req.Topic, "error", err)
		return domain.Exercise{}, err
	}
	return ex, nil
}

// GenerateGame implements Generator.
func (c *OpenAIClient) GenerateGame(ctx context.Context, req domain.GameRequest) (domain.Game, error) {
	text, err := c.complete(ctx, gameSystemPrompt, gamePrompt(req), 0.9, 1500, true)
	if err != nil {
		return domain.Game{}, fmt.Errorf("generate game: %w", err)
	}
	g, err := DecodeGame(text, req.GameType)
	if err != nil {
		c.logger.Warn("game payload rejected", "game_type", req.GameType, "topic", req.Topic, "error", err)
		return domain.Game{}, err
	}
	return g, nil
}

// Judge implements Judge.
func (c *OpenAIClient) Judge(ctx context.Context, userAnswer, correctAnswer string, ageGroup domain.AgeGroup) (domain.Verdict, error) {
	text, err := c.complete(ctx, judgeSystemPrompt, judgePrompt(userAnswer, correctAnswer, ageGroup), 0, 5, false)
	if err != nil {
		return domain.VerdictAlmost, fmt.Errorf("judge answer: %w", err)
	}
	return ParseJudgeReply(text)
}

func (c *OpenAIClient) complete(ctx context.Context, system, prompt string, temperature float32, maxTokens int, jsonReply bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	if jsonReply {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in reply", ErrMalformed)
	}
	c.logger.Debug("chat completion received", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

var (
	_ Generator = (*OpenAIClient)(nil)
	_ Judge     = (*OpenAIClient)(nil)
)

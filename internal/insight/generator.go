// Package insight implements the AI insight generation stage on top of an
// OpenAI-compatible chat completion API.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
)

const maxTokens = 2048

// Config controls the generator.
type Config struct {
	APIKey string
	Model  string
	Retry  backoff.Config
}

// chatCompleter is the slice of the OpenAI client the generator uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator implements audit.InsightGenerator.
type Generator struct {
	cfg     Config
	client  chatCompleter
	retrier *backoff.Executor
	logger  *zap.Logger
}

// New constructs a Generator backed by the OpenAI API.
func New(cfg Config, logger *zap.Logger) *Generator {
	return newWithClient(cfg, openai.NewClient(cfg.APIKey), logger)
}

func newWithClient(cfg Config, client chatCompleter, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &Generator{
		cfg:     cfg,
		client:  client,
		retrier: backoff.New(cfg.Retry, logger),
		logger:  logger,
	}
}

// Generate produces the conversion report. Quota failures surface as
// audit.RateLimitError after retries are exhausted so the orchestrator can
// apply its fallback policy.
func (g *Generator) Generate(
	ctx context.Context,
	content audit.ContentPayload,
	technologies []audit.Technology,
	performance audit.PerformancePayload,
) (audit.InsightPayload, error) {
	return backoff.Do(ctx, g.retrier, "insight generate", func(ctx context.Context) (audit.InsightPayload, error) {
		return g.generateOnce(ctx, content, technologies, performance)
	})
}

func (g *Generator) generateOnce(
	ctx context.Context,
	content audit.ContentPayload,
	technologies []audit.Technology,
	performance audit.PerformancePayload,
) (audit.InsightPayload, error) {
	req := openai.ChatCompletionRequest{
		Model:     g.cfg.Model,
		MaxTokens: maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(content, technologies, performance)},
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return audit.InsightPayload{}, audit.NewRateLimitError("insight model quota exceeded")
		}
		return audit.InsightPayload{}, fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return audit.InsightPayload{}, fmt.Errorf("chat completion returned no choices")
	}

	payload, err := decodeInsights(resp.Choices[0].Message.Content)
	if err != nil {
		return audit.InsightPayload{}, fmt.Errorf("decode model output: %w", err)
	}
	return payload, nil
}

// decodeInsights strictly decodes and validates the model output against the
// fixed report schema.
func decodeInsights(raw string) (audit.InsightPayload, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	var payload audit.InsightPayload
	if err := decoder.Decode(&payload); err != nil {
		return audit.InsightPayload{}, err
	}
	if err := validateInsights(payload); err != nil {
		return audit.InsightPayload{}, err
	}
	return payload, nil
}

func validateInsights(payload audit.InsightPayload) error {
	if payload.OverallScore < 0 || payload.OverallScore > 100 {
		return fmt.Errorf("overall_score %d out of range", payload.OverallScore)
	}
	if payload.ScoreRationale == "" {
		return errors.New("score_rationale is empty")
	}
	if len(payload.Strengths) == 0 {
		return errors.New("strengths list is empty")
	}
	if len(payload.Opportunities) == 0 {
		return errors.New("opportunities list is empty")
	}
	for i, opp := range payload.Opportunities {
		if opp.Title == "" {
			return fmt.Errorf("opportunity %d missing title", i)
		}
		switch opp.Impact {
		case audit.ImpactHigh, audit.ImpactMedium, audit.ImpactLow:
		default:
			return fmt.Errorf("opportunity %d has invalid impact %q", i, opp.Impact)
		}
		if opp.Priority < 1 || opp.Priority > 5 {
			return fmt.Errorf("opportunity %d has priority %d outside 1-5", i, opp.Priority)
		}
	}
	return nil
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/genai"
)

// GeminiModel calls Gemini behind a circuit breaker so that an unavailable
// model fails fast across requests instead of stalling every caller.
type GeminiModel struct {
	client *genai.Client
	model  string
	cb     *gobreaker.CircuitBreaker[string]
	logger zerolog.Logger
}

func NewGeminiModel(ctx context.Context, cfg *config.Config) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.AI.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger := logging.WithComponent("gemini")
	name := "gemini"
	monitoring.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			monitoring.BreakerState.WithLabelValues(name).Set(breakerValue(to))
		},
	})

	return &GeminiModel{
		client: client,
		model:  cfg.AI.Model,
		cb:     cb,
		logger: logger,
	}, nil
}

// Generate sends prompt as a single user turn and returns the response text.
// An empty response is not an error.
func (m *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := m.cb.Execute(func() (string, error) {
		contents := []*genai.Content{
			genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(prompt)}, genai.RoleUser),
		}
		result, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
		if err != nil {
			return "", err
		}
		return result.Text(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("gemini unavailable: %w", err)
		}
		return "", fmt.Errorf("failed to generate content with %s: %w", m.model, err)
	}
	if text == "" {
		m.logger.Warn().Str("model", m.model).Msg("empty response from model")
	}
	return text, nil
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

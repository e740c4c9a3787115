package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"

	"github.com/rs/zerolog"
)

// Model produces free text for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RetryPolicy bounds generation attempts. Delay grows by Multiplier after
// each failed attempt; a Multiplier below 1 keeps it constant.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: time.Second, Multiplier: 1}
}

func RetryPolicyFromConfig(cfg *config.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.AI.MaxAttempts,
		Delay:       cfg.AI.RetryDelay,
		Multiplier:  1,
	}
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	return time.Duration(float64(d) * p.Multiplier)
}

// Generator turns a channel description into validated song suggestions.
type Generator struct {
	model  Model
	policy RetryPolicy
	logger zerolog.Logger
}

func NewGenerator(model Model, policy RetryPolicy) *Generator {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Generator{
		model:  model,
		policy: policy,
		logger: logging.WithComponent("generator"),
	}
}

// Suggest asks the model for want suggestions for channel. Attempts that
// fail or yield nothing usable are retried under the retry policy; once
// attempts are exhausted the result is empty. At most want items are
// returned and no error is surfaced.
func (g *Generator) Suggest(ctx context.Context, channel models.Channel, want int) []models.RawSuggestion {
	if want <= 0 {
		return nil
	}

	prompt := BuildPrompt(channel, want)
	delay := g.policy.Delay

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		suggestions, err := g.attempt(ctx, prompt)
		if err == nil && len(suggestions) > 0 {
			monitoring.GeneratorAttempts.WithLabelValues("ok").Inc()
			g.logger.Info().
				Str("channel", channel.Name).
				Int("attempt", attempt).
				Int("suggestions", len(suggestions)).
				Msg("received suggestions")
			if len(suggestions) > want {
				suggestions = suggestions[:want]
			}
			return suggestions
		}

		monitoring.GeneratorAttempts.WithLabelValues(outcome(err)).Inc()
		g.logger.Warn().
			Err(err).
			Str("channel", channel.Name).
			Int("attempt", attempt).
			Int("max_attempts", g.policy.MaxAttempts).
			Msg("suggestion attempt yielded nothing")

		if attempt == g.policy.MaxAttempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
		delay = g.policy.next(delay)
	}

	g.logger.Error().Str("channel", channel.Name).Msg("suggestion attempts exhausted")
	return nil
}

func (g *Generator) attempt(ctx context.Context, prompt string) ([]models.RawSuggestion, error) {
	text, err := g.model.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate suggestions: %w", err)
	}

	array, ok := ExtractArray(text)
	if !ok {
		return nil, ErrNoArray
	}

	suggestions, rejected, err := ParseSuggestions(array)
	if err != nil {
		return nil, err
	}
	if rejected > 0 {
		g.logger.Debug().Int("rejected", rejected).Msg("dropped malformed suggestions")
	}
	return suggestions, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "empty"
	case errors.Is(err, ErrNoArray):
		return "no_array"
	case errors.Is(err, ErrNoValidSuggestions), errors.Is(err, ErrMalformedArray):
		return "invalid"
	default:
		return "error"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BuildPrompt renders the recommendation request for channel.
func BuildPrompt(channel models.Channel, count int) string {
	languages := make([]string, len(channel.Languages))
	for i, l := range channel.Languages {
		languages[i] = strings.ToUpper(l)
	}

	genres := "any genre"
	if len(channel.Genres) > 0 {
		genres = strings.Join(channel.Genres, ", ")
	}

	yearHint := ""
	if r := channel.YearRange(); r != nil {
		switch {
		case r.From != nil && r.To != nil:
			yearHint = fmt.Sprintf("Only suggest songs released between %d and %d.", *r.From, *r.To)
		case r.From != nil:
			yearHint = fmt.Sprintf("Only suggest songs released in %d or later.", *r.From)
		default:
			yearHint = fmt.Sprintf("Only suggest songs released in %d or earlier.", *r.To)
		}
	} else {
		yearHint = "You can suggest songs from any year or region."
	}

	return fmt.Sprintf(`You are a helpful music expert. I need recommendations for %d %s music tracks
(description: %s).

Please span across the following genres: %s.

%s

For each recommendation, provide **only** the following fields in a JSON array:

[
  {
    "title": "Song Title",
    "artist": "Artist Name",
    "composer": "Composer Name",
    "album": "Album Name",
    "year": "Year",
    "genre": "One of the above genres",
    "language": "Language of the song"
  }
]

Respond with the JSON array only.`, count, strings.Join(languages, ", "), channel.Description, genres, yearHint)
}

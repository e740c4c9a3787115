package songrecommender

import (
	"context"
	"strings"
	"testing"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/scheduler"
	"endless-chord/shared/storage"
)

func TestSongRecommenderAgentName(t *testing.T) {
	agent := NewSongRecommenderAgent(&config.Config{})
	expected := "Song Recommender"
	if name := agent.Name(); name != expected {
		t.Errorf("Agent.Name() = %s, want %s", name, expected)
	}
}

func TestRecommenderMetricsGetSummary(t *testing.T) {
	tests := []struct {
		name     string
		metrics  RecommenderMetrics
		expected string
	}{
		{
			name:     "Nothing to do",
			metrics:  RecommenderMetrics{},
			expected: "0 channels checked, 0 caches warmed in 0s",
		},
		{
			name:     "Some caches warmed",
			metrics:  RecommenderMetrics{Channels: 7, Warmed: 2, Duration: 1500 * time.Millisecond},
			expected: "7 channels checked, 2 caches warmed in 1.5s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.metrics.GetSummary()
			if result != tt.expected {
				t.Errorf("GetSummary() = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestSongRecommenderAgentRunOnce(t *testing.T) {
	catalog := newFakeCatalog(
		models.Channel{Name: "Lofi", Genres: []string{"lofi"}, Languages: []string{"various"}},
		models.Channel{Name: "EDM", Genres: []string{"edm"}, Languages: []string{"various"}},
	)
	source := &scriptedSource{batches: [][]models.RawSuggestion{
		suggestions(numbered("L", 10)...),
		suggestions(numbered("E", 10)...),
	}}
	orchestrator := NewOrchestrator(source, identityResolver{}, catalog, OrchestratorConfig{MaxRounds: 1})
	cache := NewSongCache(storage.NewMemoryCacheStore(), catalog, orchestrator, CacheConfig{})

	agent := &SongRecommenderAgent{
		config: &config.Config{},
		cache:  cache,
		engine: NewEngine(catalog, orchestrator, cache, NewRanker(nil, 0), nil, EngineConfig{}),
		logger: logging.WithComponent("agent"),
	}

	var summary string
	events := &scheduler.AgentEvents{
		OnSuccess: func(m scheduler.Metrics, _ time.Duration) { summary = m.GetSummary() },
		OnPartialFailure: func(err error, _ time.Duration) {
			t.Errorf("unexpected partial failure: %v", err)
		},
	}

	if err := agent.RunOnce(context.Background(), events); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !strings.HasPrefix(summary, "2 channels checked, 2 caches warmed") {
		t.Errorf("summary = %q", summary)
	}

	// Initialize is a no-op once the engine exists.
	if err := agent.Initialize(context.Background()); err != nil {
		t.Errorf("Initialize() after setup error = %v", err)
	}
}

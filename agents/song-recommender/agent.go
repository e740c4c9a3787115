package songrecommender

import (
	"context"
	"fmt"
	"time"

	"endless-chord/agents/song-recommender/youtube"
	"endless-chord/shared/ai"
	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/scheduler"
	"endless-chord/shared/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// RecommenderMetrics summarizes a cache warm-up run.
type RecommenderMetrics struct {
	Channels int
	Warmed   int
	Duration time.Duration
}

func (m RecommenderMetrics) GetSummary() string {
	return fmt.Sprintf("%d channels checked, %d caches warmed in %s",
		m.Channels, m.Warmed, m.Duration.Round(time.Millisecond))
}

// SongRecommenderAgent implements the scheduler.Agent interface. Each run
// fills the song cache of every channel that has none.
type SongRecommenderAgent struct {
	config  *config.Config
	pool    *pgxpool.Pool
	catalog *storage.Catalog
	store   storage.CacheStore
	cache   *SongCache
	engine  *Engine
	logger  zerolog.Logger
}

func NewSongRecommenderAgent(cfg *config.Config) *SongRecommenderAgent {
	return &SongRecommenderAgent{
		config: cfg,
		logger: logging.WithComponent("agent"),
	}
}

func (a *SongRecommenderAgent) Name() string {
	return "Song Recommender"
}

// Initialize connects the stores and builds the engine. Calling it again
// after a successful call does nothing.
func (a *SongRecommenderAgent) Initialize(ctx context.Context) error {
	if a.engine != nil {
		return nil
	}
	a.logger.Info().Msgf("Initializing %s...", a.Name())

	if a.catalog == nil {
		pool, err := storage.NewPool(ctx, a.config.Database.URL)
		if err != nil {
			return err
		}
		a.pool = pool
		a.catalog = storage.NewCatalog(pool)

		if err := a.catalog.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := a.catalog.SeedChannels(ctx, a.config.Channels); err != nil {
			return err
		}
		a.logger.Info().Int("channels", len(a.config.Channels)).Msg("catalog initialized")
	}

	if a.store == nil {
		store, err := storage.NewRedisCacheStore(ctx, a.config.Redis.URL, logging.WithComponent("cache_store"))
		if err != nil {
			a.logger.Warn().Err(err).Msg("redis unavailable, caching in memory")
			a.store = storage.NewMemoryCacheStore()
		} else {
			a.store = store
		}
	}

	rc := a.config.Recommender
	tracker, err := storage.NewPlayTracker(rc.PlayHistoryDir, rc.RecentlyPlayed)
	if err != nil {
		return fmt.Errorf("failed to create play tracker: %w", err)
	}
	a.logger.Info().Int("plays", tracker.Count()).Msg("play tracker initialized")

	model, err := ai.NewGeminiModel(ctx, a.config)
	if err != nil {
		return fmt.Errorf("failed to create Gemini model: %w", err)
	}
	generator := ai.NewGenerator(model, ai.RetryPolicyFromConfig(a.config))

	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}

	orchestrator := NewOrchestrator(generator, resolver, a.catalog, OrchestratorConfig{
		MinimumSongCount:   rc.MinimumSongCount,
		MaxRounds:          rc.MaxRounds,
		ResolveConcurrency: rc.ResolveConcurrency,
	})
	a.cache = NewSongCache(a.store, a.catalog, orchestrator, CacheConfig{
		BatchSize:          rc.CacheBatchSize,
		ReturnCount:        rc.CacheReturnCount,
		Lease:              rc.RefreshLease,
		MinRefreshInterval: rc.MinRefreshInterval,
	})
	ranker := NewRanker(a.config.Search.FieldWeights, a.config.Search.ConfidenceThreshold)

	a.engine = NewEngine(a.catalog, orchestrator, a.cache, ranker, tracker, EngineConfig{
		MinimumSongCount: rc.MinimumSongCount,
		DefaultSongCount: rc.DefaultSongCount,
		InitialSongCount: rc.InitialSongCount,
		CandidateLimit:   a.config.Search.CandidateLimit,
		RecentlyPlayed:   rc.RecentlyPlayed,
	})
	a.logger.Info().Msg("engine initialized")
	return nil
}

func (a *SongRecommenderAgent) resolver(ctx context.Context) (youtube.Resolver, error) {
	yc := &a.config.YouTube
	var chain youtube.ChainResolver

	if yc.APIKey != "" || yc.ClientID != "" {
		api, err := youtube.NewAPIResolver(ctx, yc)
		if err != nil {
			return nil, fmt.Errorf("failed to create YouTube resolver: %w", err)
		}
		chain = append(chain, api)
	}
	if yc.Scrape {
		chain = append(chain, youtube.NewScrapeResolver(yc.ScrapeRateLimit))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no video resolver configured")
	}
	a.logger.Info().Int("resolvers", len(chain)).Msg("video resolvers initialized")
	return chain, nil
}

// Engine returns the initialized engine, or nil before Initialize.
func (a *SongRecommenderAgent) Engine() *Engine {
	return a.engine
}

// ResetSongs deletes every catalog song.
func (a *SongRecommenderAgent) ResetSongs(ctx context.Context) (int64, error) {
	if a.catalog == nil {
		return 0, fmt.Errorf("agent not initialized")
	}
	return a.catalog.ResetSongs(ctx)
}

func (a *SongRecommenderAgent) RunOnce(ctx context.Context, events *scheduler.AgentEvents) error {
	start := time.Now()

	channels, err := a.engine.Channels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	warmed, err := a.engine.WarmCache(ctx)
	metrics := RecommenderMetrics{Channels: len(channels), Warmed: warmed, Duration: time.Since(start)}
	if err != nil {
		if warmed == 0 && len(channels) > 0 {
			return fmt.Errorf("cache warm-up failed: %w", err)
		}
		a.logger.Warn().Err(err).Msg("some channel caches were not warmed")
		if events != nil && events.OnPartialFailure != nil {
			events.OnPartialFailure(err, metrics.Duration)
		}
	}

	a.logger.Info().Msg(metrics.GetSummary())
	if events != nil && events.OnSuccess != nil {
		events.OnSuccess(metrics, metrics.Duration)
	}
	return nil
}

// Close waits for background refreshes and releases connections.
func (a *SongRecommenderAgent) Close() {
	if a.cache != nil {
		a.cache.Wait()
	}
	if closer, ok := a.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("cache store close failed")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

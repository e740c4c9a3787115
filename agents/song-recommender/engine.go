package songrecommender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"
	"endless-chord/shared/storage"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidInput marks caller mistakes such as an empty query.
	ErrInvalidInput = errors.New("invalid input")
	// ErrChannelNotFound is returned for unknown channel names.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrSongNotFound is returned when a play is recorded for an unknown video.
	ErrSongNotFound = errors.New("song not found")
)

// Catalog is the song and channel store the engine reads and writes.
type Catalog interface {
	SongFinder
	SongWriter
	ChannelLookup
	FindByText(ctx context.Context, text string, exclude []string, limit int) ([]models.Song, error)
	IncrementPlayCount(ctx context.Context, videoID string) error
	RecentlyPlayedIDs(ctx context.Context, languages []string, since time.Time) ([]string, error)
}

// PlayHistory tracks what individual listeners played recently.
type PlayHistory interface {
	RecentIDs(listener string) []string
	RecordPlay(listener, videoID string) error
}

type EngineConfig struct {
	MinimumSongCount int
	DefaultSongCount int
	InitialSongCount int
	CandidateLimit   int
	RecentlyPlayed   time.Duration
}

// Engine answers channel, cache and search requests.
type Engine struct {
	catalog      Catalog
	selector     *Selector
	orchestrator *Orchestrator
	cache        *SongCache
	ranker       *Ranker
	history      PlayHistory
	cfg          EngineConfig
	now          func() time.Time
	logger       zerolog.Logger
}

// NewEngine wires the engine. history may be nil.
func NewEngine(catalog Catalog, orchestrator *Orchestrator, cache *SongCache, ranker *Ranker, history PlayHistory, cfg EngineConfig) *Engine {
	if cfg.MinimumSongCount <= 0 {
		cfg.MinimumSongCount = 5
	}
	if cfg.DefaultSongCount <= 0 {
		cfg.DefaultSongCount = 20
	}
	if cfg.InitialSongCount <= 0 {
		cfg.InitialSongCount = 10
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 50
	}
	if cfg.RecentlyPlayed <= 0 {
		cfg.RecentlyPlayed = 36 * time.Hour
	}
	return &Engine{
		catalog:      catalog,
		selector:     NewSelector(catalog, cfg.MinimumSongCount),
		orchestrator: orchestrator,
		cache:        cache,
		ranker:       ranker,
		history:      history,
		cfg:          cfg,
		now:          time.Now,
		logger:       logging.WithComponent("engine"),
	}
}

// SelectSongsForChannel selects catalog songs for channel and, when fewer
// than minCount remain after exclusion, tops them up with new suggestions.
// It is the library-level entry point for embedding callers; the HTTP
// surface goes through ChannelSongs, which adds listener history and
// reports whether augmentation ran.
func (e *Engine) SelectSongsForChannel(ctx context.Context, channel models.Channel, exclude ExclusionSet, minCount int) ([]models.Song, error) {
	if minCount < 0 {
		return nil, fmt.Errorf("%w: negative minimum count", ErrInvalidInput)
	}
	if minCount == 0 {
		minCount = e.cfg.MinimumSongCount
	}
	target := max(minCount, e.cfg.DefaultSongCount)

	sel, err := e.selector.Select(ctx, channel, exclude)
	if err != nil {
		return sel.Songs, err
	}
	if len(sel.Songs) >= minCount {
		return capSongs(sel.Songs, target), nil
	}

	res := e.orchestrator.AugmentIfNeeded(ctx, sel.Songs, channel, exclude, target)
	return capSongs(res.Songs, target), nil
}

// ChannelRequest describes a listener's request for a channel's queue.
type ChannelRequest struct {
	ExcludeIDs []string
	Listener   string
	// Initial marks the first load of a session.
	Initial bool
}

// ChannelResult is the answer to a ChannelRequest.
type ChannelResult struct {
	Songs     []models.Song `json:"songs"`
	Augmented bool          `json:"aiSuggestionsAdded"`
	Attempted bool          `json:"aiSuggestionsAttempted"`
}

// ChannelSongs builds a listener's queue for the named channel. Songs the
// caller already has, songs of the channel's languages played recently by
// anyone and songs the listener played recently are all excluded.
func (e *Engine) ChannelSongs(ctx context.Context, name string, req ChannelRequest) (ChannelResult, error) {
	channel, err := e.channel(ctx, name)
	if err != nil {
		return ChannelResult{Songs: []models.Song{}}, err
	}

	exclude := NewExclusionSet(req.ExcludeIDs)
	recent, err := e.catalog.RecentlyPlayedIDs(ctx, channel.Languages, e.now().Add(-e.cfg.RecentlyPlayed))
	if err != nil {
		e.logger.Warn().Err(err).Str("channel", name).Msg("ignoring recent plays")
	}
	exclude.Add(recent...)
	if e.history != nil && req.Listener != "" {
		exclude.Add(e.history.RecentIDs(req.Listener)...)
	}

	sel, err := e.selector.Select(ctx, *channel, exclude)
	if err != nil {
		e.logger.Error().Err(err).Str("channel", name).Msg("selection failed")
		return ChannelResult{Songs: []models.Song{}}, nil
	}

	count := e.cfg.DefaultSongCount
	if req.Initial {
		count = e.cfg.InitialSongCount
	}

	if !sel.NeedsAugment {
		songs := sel.Songs
		if req.Initial {
			sortByLastPlayed(songs)
			return ChannelResult{Songs: capSongs(songs, e.cfg.MinimumSongCount)}, nil
		}
		return ChannelResult{Songs: capSongs(songs, count)}, nil
	}

	res := e.orchestrator.AugmentIfNeeded(ctx, sel.Songs, *channel, exclude, count)
	e.logger.Info().
		Str("channel", name).
		Int("selected", len(sel.Songs)).
		Int("returned", len(res.Songs)).
		Bool("augmented", res.Augmented).
		Msg("channel songs")
	return ChannelResult{Songs: capSongs(res.Songs, count), Augmented: res.Augmented, Attempted: res.Attempted}, nil
}

// CachedSongsForChannel returns count random pre-fetched songs for the
// named channel. Zero selects the configured default; counts above the
// default song count are clamped to it.
func (e *Engine) CachedSongsForChannel(ctx context.Context, name string, count int) ([]models.Song, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count", ErrInvalidInput)
	}
	count = min(count, e.cfg.DefaultSongCount)
	if _, err := e.channel(ctx, name); err != nil {
		return nil, err
	}

	songs, err := e.cache.GetCachedSongs(ctx, name, count)
	if errors.Is(err, ErrChannelNotFound) {
		return nil, err
	}
	if err != nil {
		e.logger.Error().Err(err).Str("channel", name).Msg("cache lookup failed")
		return []models.Song{}, nil
	}
	return songs, nil
}

// SearchResult is the answer to a free-text search.
type SearchResult struct {
	Songs     []models.Song `json:"songs"`
	Augmented bool          `json:"aiSuggestionsAdded"`
	Attempted bool          `json:"aiSuggestionsAttempted"`
	Stats     RankStats     `json:"stats"`
}

// Search ranks catalog matches for query and, when too few pass the
// confidence threshold, asks for suggestions in the query's spirit.
func (e *Engine) Search(ctx context.Context, query string, excludeIDs []string, initial bool) (SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResult{Songs: []models.Song{}}, fmt.Errorf("%w: empty search query", ErrInvalidInput)
	}

	exclude := NewExclusionSet(excludeIDs)
	candidates, err := e.catalog.FindByText(ctx, query, exclude.IDs(), e.cfg.CandidateLimit)
	if err != nil {
		e.logger.Error().Err(err).Str("query", query).Msg("text search failed")
		candidates = nil
	}

	ranked := e.ranker.Rank(candidates, query)
	songs := e.ranker.Kept(ranked)
	stats := e.ranker.Stats(len(candidates), ranked)
	e.logger.Info().
		Str("query", query).
		Int("candidates", stats.Original).
		Int("kept", stats.Kept).
		Float64("avg_confidence", stats.AverageConfidence).
		Int("high", stats.High).
		Int("medium", stats.Medium).
		Int("low", stats.Low).
		Msg("search ranked")

	result := SearchResult{Songs: songs, Stats: stats}
	if len(songs) >= e.cfg.MinimumSongCount {
		result.Songs = capSongs(songs, e.cfg.DefaultSongCount)
		return result, nil
	}

	augmentExclude := exclude.Clone()
	for _, s := range ranked {
		augmentExclude.Add(s.VideoID)
	}
	count := e.cfg.DefaultSongCount
	if initial {
		count = e.cfg.MinimumSongCount
	}

	res := e.orchestrator.AugmentIfNeeded(ctx, songs, models.SearchChannel(query), augmentExclude, count)
	result.Songs = capSongs(res.Songs, e.cfg.DefaultSongCount)
	result.Augmented = res.Augmented
	result.Attempted = res.Attempted
	return result, nil
}

// RecordPlay counts a play of videoID and remembers it for listener.
// Catalog write failures are logged, not returned.
func (e *Engine) RecordPlay(ctx context.Context, videoID, listener string) error {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return fmt.Errorf("%w: video id is required", ErrInvalidInput)
	}

	err := e.catalog.IncrementPlayCount(ctx, videoID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrSongNotFound, videoID)
	case err != nil:
		monitoring.CatalogWriteFailures.WithLabelValues("play_count").Inc()
		e.logger.Warn().Err(err).Str("video_id", videoID).Msg("play count not recorded")
	}

	if e.history != nil && listener != "" {
		if err := e.history.RecordPlay(listener, videoID); err != nil {
			e.logger.Warn().Err(err).Str("listener", listener).Msg("play history not saved")
		}
	}
	return nil
}

// Channels lists the configured channels.
func (e *Engine) Channels(ctx context.Context) ([]models.Channel, error) {
	channels, err := e.catalog.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	return channels, nil
}

// WarmCache populates the cache of every channel that has none.
func (e *Engine) WarmCache(ctx context.Context) (int, error) {
	return e.cache.RefreshEmpty(ctx)
}

func (e *Engine) channel(ctx context.Context, name string) (*models.Channel, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: channel name is required", ErrInvalidInput)
	}
	ch, err := e.catalog.FindChannel(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %q: %w", name, err)
	}
	return ch, nil
}

func capSongs(songs []models.Song, n int) []models.Song {
	if songs == nil {
		return []models.Song{}
	}
	if len(songs) > n {
		return songs[:n]
	}
	return songs
}

package songrecommender

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"
	"endless-chord/shared/storage"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ChannelLookup reads channel definitions.
type ChannelLookup interface {
	FindChannel(ctx context.Context, name string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]models.Channel, error)
}

// BatchSuggester fetches a batch of new songs for a channel.
type BatchSuggester interface {
	UniqueSuggestions(ctx context.Context, channel models.Channel, exclude ExclusionSet, base []models.Song, count int) []models.Song
}

type CacheConfig struct {
	// BatchSize is how many songs a refresh asks for at least. A request
	// for more songs raises the batch to its own count.
	BatchSize int
	// ReturnCount is the default number of songs handed out per request.
	ReturnCount int
	// Lease bounds how long a refresh may hold the channel's refresh flag.
	Lease time.Duration
	// MinRefreshInterval suppresses refreshes of entries updated more
	// recently than this. Zero refreshes on every hit.
	MinRefreshInterval time.Duration
}

// SongCache serves pre-fetched songs per channel and refreshes them in the
// background. At most one refresh per channel runs at a time, across
// goroutines through singleflight and across processes through the store's
// refresh flag.
type SongCache struct {
	store     storage.CacheStore
	channels  ChannelLookup
	suggester BatchSuggester
	cfg       CacheConfig

	group  singleflight.Group
	wg     sync.WaitGroup
	now    func() time.Time
	logger zerolog.Logger
}

func NewSongCache(store storage.CacheStore, channels ChannelLookup, suggester BatchSuggester, cfg CacheConfig) *SongCache {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.ReturnCount <= 0 {
		cfg.ReturnCount = 4
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &SongCache{
		store:     store,
		channels:  channels,
		suggester: suggester,
		cfg:       cfg,
		now:       time.Now,
		logger:    logging.WithComponent("songcache"),
	}
}

// GetCachedSongs returns count random songs for channel. A well-stocked
// entry is served immediately and refreshed in the background; a short one
// is refreshed before answering.
func (c *SongCache) GetCachedSongs(ctx context.Context, channel string, count int) ([]models.Song, error) {
	if count <= 0 {
		count = c.cfg.ReturnCount
	}

	entry, err := c.store.Load(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}

	if entry != nil && len(entry.Songs) >= count {
		monitoring.CacheRequests.WithLabelValues("hit").Inc()
		if !entry.Updating && c.due(entry) {
			c.refreshInBackground(channel)
		}
		return pickRandom(entry.Songs, count), nil
	}

	monitoring.CacheRequests.WithLabelValues("miss").Inc()
	return c.Refresh(ctx, channel, count)
}

// Refresh repopulates channel's entry and returns count random songs from
// it. When another refresh of the channel is already running elsewhere,
// the current songs (possibly none) are used instead.
func (c *SongCache) Refresh(ctx context.Context, channel string, count int) ([]models.Song, error) {
	return c.refreshWithMode(ctx, channel, count, "sync")
}

func (c *SongCache) refreshWithMode(ctx context.Context, channel string, count int, mode string) ([]models.Song, error) {
	if count <= 0 {
		count = c.cfg.ReturnCount
	}
	// A batch never holds fewer songs than the request that triggered it.
	want := max(c.cfg.BatchSize, count)

	v, err, shared := c.group.Do(channel, func() (any, error) {
		// The refresh outlives a cancelled caller; joined callers depend on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Lease)
		defer cancel()
		return c.refresh(rctx, channel, mode, want)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str("channel", channel).Msg("joined in-flight refresh")
	}

	songs, _ := v.([]models.Song)
	return pickRandom(songs, count), nil
}

func (c *SongCache) refresh(ctx context.Context, channel, mode string, want int) (songs []models.Song, err error) {
	start := c.now()
	outcome := "ok"
	defer func() {
		if err != nil {
			outcome = "error"
		}
		monitoring.CacheRefreshes.WithLabelValues(mode, outcome).Inc()
	}()

	token, ok, err := c.store.TryBeginRefresh(ctx, channel, c.cfg.Lease)
	if err != nil {
		return nil, err
	}
	if !ok {
		outcome = "locked"
		c.logger.Debug().Str("channel", channel).Msg("refresh already running elsewhere")
		return c.currentSongs(ctx, channel), nil
	}
	defer func() {
		if endErr := c.store.EndRefresh(context.WithoutCancel(ctx), channel, token); endErr != nil {
			c.logger.Error().Err(endErr).Str("channel", channel).Msg("failed to clear refresh flag")
		}
	}()

	current, err := c.store.Load(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}
	if current != nil && len(current.Songs) >= want && !c.due(current) {
		outcome = "skipped"
		return current.Songs, nil
	}

	ch, err := c.channels.FindChannel(ctx, channel)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel: %w", err)
	}

	fresh := c.suggester.UniqueSuggestions(ctx, *ch, NewExclusionSet(), nil, want)
	if len(fresh) == 0 {
		outcome = "empty"
		c.logger.Warn().Str("channel", channel).Msg("refresh produced no songs, keeping current entry")
		if current != nil {
			return current.Songs, nil
		}
		return nil, nil
	}

	if err := c.store.Save(ctx, channel, fresh, c.now()); err != nil {
		return nil, fmt.Errorf("failed to save cache entry: %w", err)
	}

	elapsed := c.now().Sub(start)
	monitoring.RefreshDuration.Observe(elapsed.Seconds())
	c.logger.Info().
		Str("channel", channel).
		Int("songs", len(fresh)).
		Dur("duration", elapsed).
		Msg("cache refreshed")
	return fresh, nil
}

func (c *SongCache) refreshInBackground(channel string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.refreshWithMode(context.Background(), channel, 0, "background"); err != nil {
			c.logger.Error().Err(err).Str("channel", channel).Msg("background refresh failed")
		}
	}()
}

// RefreshEmpty refreshes every channel whose entry is empty and not being
// refreshed, returning how many were populated.
func (c *SongCache) RefreshEmpty(ctx context.Context) (int, error) {
	channels, err := c.channels.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list channels: %w", err)
	}

	refreshed := 0
	var errs []error
	for _, ch := range channels {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		entry, err := c.store.Load(ctx, ch.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name, err))
			continue
		}
		if entry != nil && (len(entry.Songs) > 0 || entry.Updating) {
			continue
		}

		songs, err := c.refreshWithMode(ctx, ch.Name, 0, "warmup")
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name, err))
			continue
		}
		if len(songs) > 0 {
			refreshed++
		}
	}
	return refreshed, errors.Join(errs...)
}

// Wait blocks until background refreshes have finished.
func (c *SongCache) Wait() {
	c.wg.Wait()
}

func (c *SongCache) currentSongs(ctx context.Context, channel string) []models.Song {
	entry, err := c.store.Load(ctx, channel)
	if err != nil || entry == nil {
		return nil
	}
	return entry.Songs
}

func (c *SongCache) due(entry *models.CacheEntry) bool {
	return c.cfg.MinRefreshInterval <= 0 || c.now().Sub(entry.LastUpdated) >= c.cfg.MinRefreshInterval
}

// pickRandom returns up to n songs of songs in random order, leaving songs untouched.
func pickRandom(songs []models.Song, n int) []models.Song {
	if len(songs) == 0 || n <= 0 {
		return []models.Song{}
	}
	n = min(n, len(songs))
	out := make([]models.Song, n)
	for i, j := range rand.Perm(len(songs))[:n] {
		out[i] = songs[j]
	}
	return out
}

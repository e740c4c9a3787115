package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"endless-chord/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CacheStore persists per-channel cache entries and the refresh flag that
// keeps at most one refresh per channel in flight.
type CacheStore interface {
	// Load returns the entry for channel, or nil when none exists.
	Load(ctx context.Context, channel string) (*models.CacheEntry, error)
	// Save replaces the songs and timestamp of the entry for channel.
	Save(ctx context.Context, channel string, songs []models.Song, updated time.Time) error
	// TryBeginRefresh atomically claims the refresh flag for channel. The
	// flag expires after lease even if never released.
	TryBeginRefresh(ctx context.Context, channel string, lease time.Duration) (token string, ok bool, err error)
	// EndRefresh releases the flag if it is still held under token.
	EndRefresh(ctx context.Context, channel, token string) error
}

const cacheKeyPrefix = "songcache:"

func entryKey(channel string) string { return cacheKeyPrefix + channel }
func lockKey(channel string) string  { return cacheKeyPrefix + channel + ":updating" }

// releaseScript deletes the lock only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type snapshot struct {
	Songs       []models.Song `json:"songs"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// RedisCacheStore keeps cache entries as JSON snapshots in Redis.
type RedisCacheStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisCacheStore connects to the Redis server at url.
func NewRedisCacheStore(ctx context.Context, url string, logger zerolog.Logger) (*RedisCacheStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected to Redis cache store")
	return &RedisCacheStore{client: client, logger: logger}, nil
}

func (s *RedisCacheStore) Load(ctx context.Context, channel string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, entryKey(channel)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load cache entry for %q: %w", channel, err)
	}

	updating, lockErr := s.client.Exists(ctx, lockKey(channel)).Result()
	if lockErr != nil {
		return nil, fmt.Errorf("failed to read refresh flag for %q: %w", channel, lockErr)
	}

	if errors.Is(err, redis.Nil) {
		if updating == 0 {
			return nil, nil
		}
		return &models.CacheEntry{Channel: channel, Updating: true}, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Msg("discarding undecodable cache entry")
		return &models.CacheEntry{Channel: channel, Updating: updating > 0}, nil
	}

	return &models.CacheEntry{
		Channel:     channel,
		Songs:       snap.Songs,
		LastUpdated: snap.LastUpdated,
		Updating:    updating > 0,
	}, nil
}

func (s *RedisCacheStore) Save(ctx context.Context, channel string, songs []models.Song, updated time.Time) error {
	data, err := json.Marshal(snapshot{Songs: songs, LastUpdated: updated})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, entryKey(channel), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save cache entry for %q: %w", channel, err)
	}
	return nil
}

func (s *RedisCacheStore) TryBeginRefresh(ctx context.Context, channel string, lease time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, lockKey(channel), token, lease).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim refresh flag for %q: %w", channel, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *RedisCacheStore) EndRefresh(ctx context.Context, channel, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(channel)}, token).Err(); err != nil {
		return fmt.Errorf("failed to release refresh flag for %q: %w", channel, err)
	}
	return nil
}

func (s *RedisCacheStore) Close() error {
	return s.client.Close()
}

// MemoryCacheStore is a process-local CacheStore, used when no Redis server
// is configured.
type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]snapshot
	locks   map[string]memoryLock
	now     func() time.Time
}

type memoryLock struct {
	token   string
	expires time.Time
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{
		entries: make(map[string]snapshot),
		locks:   make(map[string]memoryLock),
		now:     time.Now,
	}
}

func (s *MemoryCacheStore) Load(_ context.Context, channel string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.entries[channel]
	updating := s.lockedLocked(channel)
	if !ok && !updating {
		return nil, nil
	}
	songs := make([]models.Song, len(snap.Songs))
	copy(songs, snap.Songs)
	return &models.CacheEntry{
		Channel:     channel,
		Songs:       songs,
		LastUpdated: snap.LastUpdated,
		Updating:    updating,
	}, nil
}

func (s *MemoryCacheStore) Save(_ context.Context, channel string, songs []models.Song, updated time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]models.Song, len(songs))
	copy(copied, songs)
	s.entries[channel] = snapshot{Songs: copied, LastUpdated: updated}
	return nil
}

func (s *MemoryCacheStore) TryBeginRefresh(_ context.Context, channel string, lease time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedLocked(channel) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[channel] = memoryLock{token: token, expires: s.now().Add(lease)}
	return token, true, nil
}

func (s *MemoryCacheStore) EndRefresh(_ context.Context, channel, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[channel]; ok && l.token == token {
		delete(s.locks, channel)
	}
	return nil
}

// lockedLocked reports whether channel's flag is held. Callers hold s.mu.
func (s *MemoryCacheStore) lockedLocked(channel string) bool {
	l, ok := s.locks[channel]
	if !ok {
		return false
	}
	if !s.now().Before(l.expires) {
		delete(s.locks, channel)
		return false
	}
	return true
}

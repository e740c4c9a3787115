package songrecommender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/storage"
)

// fakeCatalog is an in-memory Catalog that mirrors the merge rules of the
// Postgres implementation.
type fakeCatalog struct {
	mu        sync.Mutex
	songs     []models.Song
	channels  map[string]models.Channel
	nextID    int64
	recent    []string
	findErr   error
	upsertErr map[string]error

	filterCalls int
	lastFilter  storage.SongFilter
	upserts     int
}

func newFakeCatalog(channels ...models.Channel) *fakeCatalog {
	c := &fakeCatalog{channels: make(map[string]models.Channel), upsertErr: make(map[string]error)}
	for _, ch := range channels {
		c.channels[ch.Name] = ch
	}
	return c
}

func (c *fakeCatalog) add(songs ...models.Song) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range songs {
		c.nextID++
		s.ID = c.nextID
		c.songs = append(c.songs, s)
	}
}

func (c *fakeCatalog) FindByFilter(_ context.Context, f storage.SongFilter) ([]models.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filterCalls++
	c.lastFilter = f
	if c.findErr != nil {
		return nil, c.findErr
	}

	exclude := NewExclusionSet(f.Exclude)
	var out []models.Song
	for _, s := range c.songs {
		if exclude.Has(s.VideoID) || !overlaps(s.Genre, f.Genres) || !overlaps(s.Language, f.Languages) {
			continue
		}
		if f.Years != nil && !f.Years.Contains(s.Year) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *fakeCatalog) FindByText(_ context.Context, text string, exclude []string, limit int) ([]models.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.findErr != nil {
		return nil, c.findErr
	}

	skip := NewExclusionSet(exclude)
	words := storage.SearchWords(text)
	var out []models.Song
	for _, s := range c.songs {
		if skip.Has(s.VideoID) {
			continue
		}
		hay := strings.ToLower(strings.Join([]string{s.Title, s.Artist, s.Album, s.Composer, strings.Join(s.Genre, " ")}, " "))
		for _, w := range words {
			if strings.Contains(hay, w) {
				out = append(out, s)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *fakeCatalog) UpsertByVideoRef(_ context.Context, u storage.SongUpsert) (*models.Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	if err := c.upsertErr[u.VideoID]; err != nil {
		return nil, err
	}

	for i := range c.songs {
		if c.songs[i].VideoID == u.VideoID {
			c.songs[i].Genre = MergeTags(c.songs[i].Genre, u.Genre)
			c.songs[i].Language = MergeTags(c.songs[i].Language, u.Language)
			s := c.songs[i]
			return &s, nil
		}
	}

	c.nextID++
	s := models.Song{
		ID:       c.nextID,
		VideoID:  u.VideoID,
		Title:    u.Title,
		Artist:   u.Artist,
		Composer: u.Composer,
		Album:    u.Album,
		Year:     u.Year,
		Genre:    MergeTags(u.Genre),
		Language: MergeTags(u.Language),
	}
	c.songs = append(c.songs, s)
	return &s, nil
}

func (c *fakeCatalog) IncrementPlayCount(_ context.Context, videoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.songs {
		if c.songs[i].VideoID == videoID {
			c.songs[i].PlayCount++
			now := time.Now()
			c.songs[i].LastPlayed = &now
			return nil
		}
	}
	return storage.ErrNotFound
}

func (c *fakeCatalog) RecentlyPlayedIDs(context.Context, []string, time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.recent...), nil
}

func (c *fakeCatalog) FindChannel(_ context.Context, name string) (*models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &ch, nil
}

func (c *fakeCatalog) ListChannels(context.Context) ([]models.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *fakeCatalog) song(videoID string) (models.Song, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.songs {
		if s.VideoID == videoID {
			return s, true
		}
	}
	return models.Song{}, false
}

func overlaps(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// scriptedSource returns one batch per call, then nothing.
type scriptedSource struct {
	mu      sync.Mutex
	batches [][]models.RawSuggestion
	wants   []int
	calls   int
}

func (s *scriptedSource) Suggest(_ context.Context, _ models.Channel, want int) []models.RawSuggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.wants = append(s.wants, want)
	if i >= len(s.batches) {
		return nil
	}
	return s.batches[i]
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubResolver maps titles to video IDs; unknown titles do not resolve.
type stubResolver map[string]string

func (r stubResolver) Resolve(_ context.Context, title, _ string) (*models.VideoRef, bool) {
	id, ok := r[title]
	if !ok {
		return nil, false
	}
	return &models.VideoRef{VideoID: id, DisplayTitle: title}, true
}

// identityResolver resolves every title to "vid-<title>".
type identityResolver struct{}

func (identityResolver) Resolve(_ context.Context, title, _ string) (*models.VideoRef, bool) {
	return &models.VideoRef{VideoID: "vid-" + title, DisplayTitle: title}, true
}

func suggestions(titles ...string) []models.RawSuggestion {
	out := make([]models.RawSuggestion, len(titles))
	for i, t := range titles {
		out[i] = models.RawSuggestion{Title: t, Artist: "Artist " + t, Genre: []string{"Pop"}, Language: []string{"English"}}
	}
	return out
}

func catalogSong(videoID string, plays int, genre, language string) models.Song {
	return models.Song{
		VideoID:   videoID,
		Title:     "Song " + videoID,
		Genre:     []string{genre},
		Language:  []string{language},
		PlayCount: plays,
	}
}

func videoIDs(songs []models.Song) []string {
	ids := make([]string, len(songs))
	for i, s := range songs {
		ids[i] = s.VideoID
	}
	return ids
}

func numbered(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return out
}

var errBoom = errors.New("boom")

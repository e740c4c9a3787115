package songrecommender

import (
	"context"
	"sync"
	"testing"
	"time"

	"endless-chord/agents/song-recommender/youtube"
	"endless-chord/internal/models"
	"endless-chord/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	mu    sync.Mutex
	plays map[string][]string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{plays: make(map[string][]string)}
}

func (h *fakeHistory) RecentIDs(listener string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.plays[listener]...)
}

func (h *fakeHistory) RecordPlay(listener, videoID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plays[listener] = append(h.plays[listener], videoID)
	return nil
}

type engineFixture struct {
	engine  *Engine
	catalog *fakeCatalog
	source  *scriptedSource
	history *fakeHistory
}

func newEngineFixture(resolver youtube.Resolver) *engineFixture {
	catalog := newFakeCatalog(popChannel())
	source := &scriptedSource{}
	history := newFakeHistory()

	orchestrator := NewOrchestrator(source, resolver, catalog, OrchestratorConfig{MaxRounds: 1})
	cache := NewSongCache(storage.NewMemoryCacheStore(), catalog, orchestrator, CacheConfig{})
	engine := NewEngine(catalog, orchestrator, cache, NewRanker(nil, 0.3), history, EngineConfig{})

	return &engineFixture{engine: engine, catalog: catalog, source: source, history: history}
}

func TestChannelSongsExcludesKnownSongs(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	for _, id := range numbered("v", 8) {
		f.catalog.add(catalogSong(id, 0, "pop", "english"))
	}
	f.catalog.recent = []string{"v2"}
	require.NoError(t, f.history.RecordPlay("alice", "v3"))

	res, err := f.engine.ChannelSongs(context.Background(), "English Pop", ChannelRequest{
		ExcludeIDs: []string{"v1"},
		Listener:   "alice",
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"v4", "v5", "v6", "v7", "v8"}, videoIDs(res.Songs))
	assert.False(t, res.Attempted)
	assert.Zero(t, f.source.callCount())
}

func TestChannelSongsInitialPrefersUnplayed(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	played := time.Now().Add(-48 * time.Hour)
	for _, id := range numbered("v", 7) {
		s := catalogSong(id, 0, "pop", "english")
		if id != "v7" {
			s.LastPlayed = &played
		}
		f.catalog.add(s)
	}

	res, err := f.engine.ChannelSongs(context.Background(), "English Pop", ChannelRequest{Initial: true})
	require.NoError(t, err)
	require.Len(t, res.Songs, 5)
	assert.Equal(t, "v7", res.Songs[0].VideoID)
}

func TestChannelSongsAugmentsShortSelection(t *testing.T) {
	f := newEngineFixture(stubResolver{"A": "v1", "B": "n1", "C": "n2", "D": "n3", "E": "n4", "F": "n5"})
	f.catalog.add(catalogSong("v1", 0, "pop", "english"), catalogSong("v2", 0, "pop", "english"))
	f.source.batches = [][]models.RawSuggestion{suggestions("A", "B", "C", "D", "E", "F", "G")}

	res, err := f.engine.ChannelSongs(context.Background(), "English Pop", ChannelRequest{})
	require.NoError(t, err)

	assert.True(t, res.Attempted)
	assert.True(t, res.Augmented)
	assert.ElementsMatch(t, []string{"v1", "v2", "n1", "n2", "n3", "n4", "n5"}, videoIDs(res.Songs))
	assert.Equal(t, []int{36}, f.source.wants)
}

func TestChannelSongsErrors(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	ctx := context.Background()

	_, err := f.engine.ChannelSongs(ctx, "Jazz", ChannelRequest{})
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = f.engine.ChannelSongs(ctx, " ", ChannelRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.catalog.findErr = errBoom
	res, err := f.engine.ChannelSongs(ctx, "English Pop", ChannelRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.Songs)
}

func TestSelectSongsForChannel(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	ctx := context.Background()
	f.catalog.add(catalogSong("v1", 0, "pop", "english"))
	f.source.batches = [][]models.RawSuggestion{suggestions("A", "B", "C", "D", "E")}

	_, err := f.engine.SelectSongsForChannel(ctx, popChannel(), nil, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	songs, err := f.engine.SelectSongsForChannel(ctx, popChannel(), NewExclusionSet([]string{"vid-C"}), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "vid-A", "vid-B", "vid-D", "vid-E"}, videoIDs(songs))
}

func TestSearchRanksCatalogMatches(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	for _, id := range numbered("m", 6) {
		f.catalog.add(models.Song{VideoID: id, Title: "Blue Moon", Artist: "Singer " + id})
	}

	res, err := f.engine.Search(context.Background(), "blue moon", nil, false)
	require.NoError(t, err)
	assert.Len(t, res.Songs, 6)
	assert.False(t, res.Attempted)
	assert.Equal(t, 6, res.Stats.Kept)
}

func TestSearchAugmentsAndExcludesRankedCandidates(t *testing.T) {
	f := newEngineFixture(stubResolver{
		"Low": "low", "Hit": "hit",
		"N1": "n1", "N2": "n2", "N3": "n3", "N4": "n4",
	})
	f.catalog.add(
		models.Song{VideoID: "hit", Title: "Blue Moon", Artist: "Frank"},
		models.Song{VideoID: "low", Title: "Blue Skies Tonight", Artist: "Moonlight Band"},
	)
	f.source.batches = [][]models.RawSuggestion{suggestions("Low", "Hit", "N1", "N2", "N3", "N4")}

	res, err := f.engine.Search(context.Background(), "blue moon", nil, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"hit", "n1", "n2", "n3", "n4"}, videoIDs(res.Songs))
	assert.True(t, res.Augmented)
	assert.Equal(t, 2, res.Stats.Original)
	assert.Equal(t, 1, res.Stats.Kept)

	added, ok := f.catalog.song("n1")
	require.True(t, ok)
	assert.Contains(t, added.Language, models.LanguageVarious)
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	res, err := f.engine.Search(context.Background(), "   ", nil, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotNil(t, res.Songs)
}

func TestRecordPlay(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	ctx := context.Background()
	f.catalog.add(catalogSong("v1", 2, "pop", "english"))

	require.NoError(t, f.engine.RecordPlay(ctx, "v1", "bob"))
	song, _ := f.catalog.song("v1")
	assert.Equal(t, 3, song.PlayCount)
	assert.NotNil(t, song.LastPlayed)
	assert.Equal(t, []string{"v1"}, f.history.RecentIDs("bob"))

	assert.ErrorIs(t, f.engine.RecordPlay(ctx, "missing", ""), ErrSongNotFound)
	assert.ErrorIs(t, f.engine.RecordPlay(ctx, "", ""), ErrInvalidInput)
}

func TestCachedSongsForChannel(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	ctx := context.Background()
	f.source.batches = [][]models.RawSuggestion{suggestions(numbered("S", 10)...)}

	songs, err := f.engine.CachedSongsForChannel(ctx, "English Pop", 0)
	require.NoError(t, err)
	assert.Len(t, songs, 4)

	_, err = f.engine.CachedSongsForChannel(ctx, "Jazz", 0)
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = f.engine.CachedSongsForChannel(ctx, "English Pop", -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	f.engine.cache.Wait()
}

func TestCachedSongsForChannelClampsCount(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	f.source.batches = [][]models.RawSuggestion{suggestions(numbered("S", 25)...)}

	songs, err := f.engine.CachedSongsForChannel(context.Background(), "English Pop", 500)
	require.NoError(t, err)
	assert.Len(t, songs, 20)
	assert.Equal(t, []int{40}, f.source.wants)

	f.engine.cache.Wait()
}

func TestEngineChannels(t *testing.T) {
	f := newEngineFixture(identityResolver{})
	channels, err := f.engine.Channels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "English Pop", channels[0].Name)
}

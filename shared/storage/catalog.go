package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"endless-chord/internal/models"
	"endless-chord/shared/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

const (
	maxRetries    = 5
	retryInterval = 2 * time.Second
)

// NewPool connects to Postgres, retrying the initial connect and ping.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	logger := logging.WithComponent("database")

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= maxRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			pingErr := pool.Ping(ctx)
			if pingErr == nil {
				logger.Info().Msg("database connected")
				return pool, nil
			}
			pool.Close()
			err = pingErr
		}

		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetries).Msg("database connection attempt failed")
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}

	return nil, fmt.Errorf("database connection failed after %d attempts: %w", maxRetries, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS songs (
	id          BIGSERIAL PRIMARY KEY,
	video_id    TEXT UNIQUE,
	title       TEXT NOT NULL,
	artist      TEXT NOT NULL DEFAULT '',
	composer    TEXT NOT NULL DEFAULT '',
	album       TEXT NOT NULL DEFAULT '',
	year        TEXT NOT NULL DEFAULT '',
	genre       TEXT[] NOT NULL DEFAULT '{}',
	language    TEXT[] NOT NULL DEFAULT '{}',
	description TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}',
	play_count  INTEGER NOT NULL DEFAULT 0,
	last_played TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS songs_genre_idx ON songs USING GIN (genre);
CREATE INDEX IF NOT EXISTS songs_language_idx ON songs USING GIN (language);
CREATE INDEX IF NOT EXISTS songs_play_count_idx ON songs (play_count, last_played);

CREATE TABLE IF NOT EXISTS channels (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	languages   TEXT[] NOT NULL DEFAULT '{}',
	genres      TEXT[] NOT NULL DEFAULT '{}',
	start_year  INTEGER,
	end_year    INTEGER
);`

const songColumns = `id, COALESCE(video_id, ''), title, artist, composer, album, year,
	genre, language, description, tags, play_count, last_played`

// Catalog is the Postgres-backed song and channel store.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) EnsureSchema(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SongFilter selects songs for a channel. Genres and Languages match
// case-insensitively by overlap; Exclude lists video IDs to leave out.
type SongFilter struct {
	Genres    []string
	Languages []string
	Exclude   []string
	Years     *models.YearRange
}

// FindByFilter returns songs matching f, least played first.
func (c *Catalog) FindByFilter(ctx context.Context, f SongFilter) ([]models.Song, error) {
	query := `
		SELECT ` + songColumns + `
		FROM songs
		WHERE EXISTS (SELECT 1 FROM unnest(genre) AS g WHERE lower(g) = ANY($1))
		  AND EXISTS (SELECT 1 FROM unnest(language) AS l WHERE lower(l) = ANY($2))
		  AND COALESCE(video_id, '') <> ALL($3)
		ORDER BY play_count ASC, last_played ASC NULLS FIRST`

	rows, err := c.pool.Query(ctx, query, lowerAll(f.Genres), lowerAll(f.Languages), nonNil(f.Exclude))
	if err != nil {
		return nil, fmt.Errorf("failed to query songs by filter: %w", err)
	}
	songs, err := collectSongs(rows)
	if err != nil {
		return nil, err
	}

	if f.Years == nil {
		return songs, nil
	}
	// Years are free text, so the range check runs here rather than in SQL.
	filtered := songs[:0]
	for _, s := range songs {
		if f.Years.Contains(s.Year) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// FindByText returns songs with a whole-word, case-insensitive match for
// any query word longer than two characters.
func (c *Catalog) FindByText(ctx context.Context, text string, exclude []string, limit int) ([]models.Song, error) {
	pattern, ok := TextPattern(text)
	if !ok {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + songColumns + `
		FROM songs
		WHERE (title ~* $1 OR artist ~* $1 OR composer ~* $1 OR album ~* $1 OR description ~* $1
		       OR array_to_string(tags, ' ') ~* $1
		       OR array_to_string(genre, ' ') ~* $1
		       OR array_to_string(language, ' ') ~* $1)
		  AND COALESCE(video_id, '') <> ALL($2)
		ORDER BY play_count ASC
		LIMIT $3`

	rows, err := c.pool.Query(ctx, query, pattern, nonNil(exclude), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search songs: %w", err)
	}
	return collectSongs(rows)
}

// SongUpsert carries the fields of a resolved suggestion. Genre and
// Language are merged into an existing row's tags, never replacing them.
type SongUpsert struct {
	VideoID  string
	Title    string
	Artist   string
	Composer string
	Album    string
	Year     string
	Genre    []string
	Language []string
}

// upsertSQL inserts a song or unions its tags into the existing row with
// the same video ID, case-insensitively and in first-seen order. Scalar
// fields of an existing row are left as they are.
const upsertSQL = `
	INSERT INTO songs (video_id, title, artist, composer, album, year, genre, language)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (video_id) DO UPDATE SET
		genre = ARRAY(
			SELECT (array_agg(t ORDER BY n))[1]
			FROM unnest(songs.genre || EXCLUDED.genre) WITH ORDINALITY AS u(t, n)
			GROUP BY lower(t) ORDER BY min(n)),
		language = ARRAY(
			SELECT (array_agg(t ORDER BY n))[1]
			FROM unnest(songs.language || EXCLUDED.language) WITH ORDINALITY AS u(t, n)
			GROUP BY lower(t) ORDER BY min(n))
	RETURNING ` + songColumns

// UpsertByVideoRef creates the song for u.VideoID or merges u's tags into it.
// The statement is atomic, so concurrent creates of one video yield one row.
func (c *Catalog) UpsertByVideoRef(ctx context.Context, u SongUpsert) (*models.Song, error) {
	if u.VideoID == "" {
		return nil, fmt.Errorf("upsert requires a video id")
	}

	row := c.pool.QueryRow(ctx, upsertSQL,
		u.VideoID, u.Title, u.Artist, u.Composer, u.Album, u.Year,
		nonNil(u.Genre), nonNil(u.Language),
	)
	song, err := scanSong(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert song %s: %w", u.VideoID, err)
	}
	return song, nil
}

// IncrementPlayCount records a play of the song with videoID.
func (c *Catalog) IncrementPlayCount(ctx context.Context, videoID string) error {
	tag, err := c.pool.Exec(ctx,
		`UPDATE songs SET play_count = play_count + 1, last_played = now() WHERE video_id = $1`,
		videoID)
	if err != nil {
		return fmt.Errorf("failed to record play of %s: %w", videoID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentlyPlayedIDs returns video IDs of songs in any of languages played
// since the given time. An empty language list matches every song.
func (c *Catalog) RecentlyPlayedIDs(ctx context.Context, languages []string, since time.Time) ([]string, error) {
	query := `
		SELECT video_id
		FROM songs
		WHERE video_id IS NOT NULL
		  AND last_played >= $2
		  AND (cardinality($1::text[]) = 0
		       OR EXISTS (SELECT 1 FROM unnest(language) AS l WHERE lower(l) = ANY($1)))`

	rows, err := c.pool.Query(ctx, query, lowerAll(languages), since)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent plays: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read recent plays: %w", err)
	}
	return ids, nil
}

// ResetSongs deletes every song. It is the only deletion path and is
// reserved for administrative use.
func (c *Catalog) ResetSongs(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `DELETE FROM songs`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset songs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (c *Catalog) FindChannel(ctx context.Context, name string) (*models.Channel, error) {
	query := `
		SELECT id, name, description, languages, genres, start_year, end_year
		FROM channels
		WHERE name = $1`

	ch, err := scanChannel(c.pool.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find channel %q: %w", name, err)
	}
	return ch, nil
}

func (c *Catalog) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, name, description, languages, genres, start_year, end_year
		FROM channels
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}

// SeedChannels inserts the configured channels, updating existing ones by name.
func (c *Catalog) SeedChannels(ctx context.Context, channels []models.Channel) error {
	batch := &pgx.Batch{}
	for _, ch := range channels {
		batch.Queue(`
			INSERT INTO channels (name, description, languages, genres, start_year, end_year)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (name) DO UPDATE SET
				description = EXCLUDED.description,
				languages = EXCLUDED.languages,
				genres = EXCLUDED.genres,
				start_year = EXCLUDED.start_year,
				end_year = EXCLUDED.end_year`,
			ch.Name, ch.Description, nonNil(ch.Languages), nonNil(ch.Genres), ch.StartYear, ch.EndYear)
	}

	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed channels: %w", err)
	}
	return nil
}

func scanSong(row pgx.Row) (*models.Song, error) {
	var s models.Song
	err := row.Scan(
		&s.ID, &s.VideoID, &s.Title, &s.Artist, &s.Composer, &s.Album, &s.Year,
		&s.Genre, &s.Language, &s.Description, &s.Tags, &s.PlayCount, &s.LastPlayed,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSongs(rows pgx.Rows) ([]models.Song, error) {
	defer rows.Close()

	var songs []models.Song
	for rows.Next() {
		s, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan song: %w", err)
		}
		songs = append(songs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read songs: %w", err)
	}
	return songs, nil
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	if err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &ch.Languages, &ch.Genres, &ch.StartYear, &ch.EndYear); err != nil {
		return nil, err
	}
	return &ch, nil
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// SearchWords returns the distinct lower-cased words of text longer than
// two characters.
func SearchWords(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(w)) <= 2 || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

// TextPattern builds a Postgres word-boundary regex matching any search
// word of text. It reports false when text has no usable words.
func TextPattern(text string) (string, bool) {
	words := SearchWords(text)
	if len(words) == 0 {
		return "", false
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return `\m(` + strings.Join(quoted, "|") + `)\M`, true
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

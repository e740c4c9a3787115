package songrecommender

import (
	"context"
	"regexp"
	"strings"

	"endless-chord/agents/song-recommender/youtube"
	"endless-chord/internal/models"
	"endless-chord/shared/logging"
	"endless-chord/shared/monitoring"
	"endless-chord/shared/storage"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SuggestionSource produces raw song suggestions for a channel.
type SuggestionSource interface {
	Suggest(ctx context.Context, channel models.Channel, want int) []models.RawSuggestion
}

// SongWriter merges resolved suggestions into the catalog.
type SongWriter interface {
	UpsertByVideoRef(ctx context.Context, u storage.SongUpsert) (*models.Song, error)
}

type OrchestratorConfig struct {
	MinimumSongCount   int
	MaxRounds          int
	ResolveConcurrency int
}

// Orchestrator turns generated suggestions into catalog songs that are new
// to the caller.
type Orchestrator struct {
	source   SuggestionSource
	resolver youtube.Resolver
	catalog  SongWriter
	cfg      OrchestratorConfig
	logger   zerolog.Logger
}

func NewOrchestrator(source SuggestionSource, resolver youtube.Resolver, catalog SongWriter, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MinimumSongCount <= 0 {
		cfg.MinimumSongCount = 5
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ResolveConcurrency <= 0 {
		cfg.ResolveConcurrency = 5
	}
	return &Orchestrator{
		source:   source,
		resolver: resolver,
		catalog:  catalog,
		cfg:      cfg,
		logger:   logging.WithComponent("orchestrator"),
	}
}

// UniqueSuggestions returns up to count catalog songs for channel whose
// video IDs are neither excluded nor already among base, with no repeats.
// Fewer songs than requested, including none, is a normal outcome.
func (o *Orchestrator) UniqueSuggestions(ctx context.Context, channel models.Channel, exclude ExclusionSet, base []models.Song, count int) []models.Song {
	if count <= 0 {
		return nil
	}

	target := min(count, o.cfg.MinimumSongCount)

	taken := make(map[string]bool, len(base))
	for _, s := range base {
		if s.VideoID != "" {
			taken[s.VideoID] = true
		}
	}

	var accepted []models.ResolvedSuggestion
	for round := 1; round <= o.cfg.MaxRounds && len(accepted) < target; round++ {
		if ctx.Err() != nil {
			break
		}

		candidates := o.source.Suggest(ctx, channel, 2*count)
		refs := o.resolveAll(ctx, candidates)

		added := 0
		for i, ref := range refs {
			if ref == nil || exclude.Has(ref.VideoID) || taken[ref.VideoID] {
				continue
			}
			taken[ref.VideoID] = true
			accepted = append(accepted, models.ResolvedSuggestion{Suggestion: candidates[i], Video: *ref})
			added++
		}

		o.logger.Info().
			Str("channel", channel.Name).
			Int("round", round).
			Int("candidates", len(candidates)).
			Int("added", added).
			Int("accepted", len(accepted)).
			Msg("suggestion round complete")
	}

	if len(accepted) > count {
		accepted = accepted[:count]
	}

	songs := make([]models.Song, 0, len(accepted))
	for _, rs := range accepted {
		song, err := o.catalog.UpsertByVideoRef(ctx, upsertFor(channel, rs))
		if err != nil {
			monitoring.CatalogWriteFailures.WithLabelValues("upsert").Inc()
			o.logger.Warn().Err(err).Str("video_id", rs.Video.VideoID).Msg("dropping suggestion after catalog merge failure")
			continue
		}
		monitoring.SuggestionsAccepted.Inc()
		songs = append(songs, *song)
	}
	return songs
}

// resolveAll looks up every candidate concurrently. The result is aligned
// with candidates; unresolved entries are nil.
func (o *Orchestrator) resolveAll(ctx context.Context, candidates []models.RawSuggestion) []*models.VideoRef {
	refs := make([]*models.VideoRef, len(candidates))

	var g errgroup.Group
	g.SetLimit(o.cfg.ResolveConcurrency)
	for i, c := range candidates {
		g.Go(func() error {
			if ref, ok := o.resolver.Resolve(ctx, c.Title, c.Artist); ok && ref.VideoID != "" {
				refs[i] = ref
			}
			return nil
		})
	}
	_ = g.Wait()

	return refs
}

// AugmentResult is the outcome of AugmentIfNeeded. Attempted reports
// whether suggestions were requested; Augmented whether any were added.
type AugmentResult struct {
	Songs     []models.Song `json:"songs"`
	Augmented bool          `json:"augmented"`
	Attempted bool          `json:"attempted"`
}

// AugmentIfNeeded tops songs up to count with new suggestions for channel.
// songs is returned unchanged when it already holds count songs or when
// nothing could be added.
func (o *Orchestrator) AugmentIfNeeded(ctx context.Context, songs []models.Song, channel models.Channel, exclude ExclusionSet, count int) AugmentResult {
	missing := count - len(songs)
	if missing <= 0 {
		return AugmentResult{Songs: songs}
	}

	source := "channel"
	if channel.IsSearch() {
		source = "search"
	}

	added := o.UniqueSuggestions(ctx, channel, exclude, songs, missing)
	if len(added) == 0 {
		monitoring.Augmentations.WithLabelValues(source, "empty").Inc()
		return AugmentResult{Songs: songs, Attempted: true}
	}
	monitoring.Augmentations.WithLabelValues(source, "added").Inc()

	merged := make([]models.Song, 0, len(songs)+len(added))
	merged = append(merged, songs...)
	merged = append(merged, added...)
	return AugmentResult{Songs: merged, Augmented: true, Attempted: true}
}

func upsertFor(channel models.Channel, rs models.ResolvedSuggestion) storage.SongUpsert {
	s := rs.Suggestion
	return storage.SongUpsert{
		VideoID:  rs.Video.VideoID,
		Title:    s.Title,
		Artist:   s.Artist,
		Composer: s.Composer,
		Album:    s.Album,
		Year:     s.Year,
		Genre:    MergeTags(channel.Genres, ExplodeTags(s.Genre)),
		Language: MergeTags(channel.Languages, ExplodeTags(s.Language)),
	}
}

var tagSeparators = regexp.MustCompile(`[\s,&/-]+`)

// ExplodeTags keeps each composite tag and adds its parts, so "Pop/R&B"
// yields "Pop/R&B", "Pop", "R" and "B".
func ExplodeTags(raw []string) []string {
	var out []string
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
		for _, part := range tagSeparators.Split(tag, -1) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return MergeTags(out)
}

// MergeTags concatenates tag lists, dropping blanks and case-insensitive
// duplicates while keeping first-seen order and spelling.
func MergeTags(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			key := strings.ToLower(tag)
			if tag == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, tag)
		}
	}
	return out
}

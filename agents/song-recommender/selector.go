package songrecommender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"endless-chord/internal/models"
	"endless-chord/shared/storage"
)

// SongFinder queries the catalog by channel filters.
type SongFinder interface {
	FindByFilter(ctx context.Context, f storage.SongFilter) ([]models.Song, error)
}

// Selection is the result of a catalog selection for a channel.
// NeedsAugment is set when fewer than the minimum songs were found.
type Selection struct {
	Songs        []models.Song
	NeedsAugment bool
}

// Selector picks catalog songs for a channel, honouring an exclusion set.
type Selector struct {
	finder  SongFinder
	minimum int
	shuffle func(n int, swap func(i, j int))
}

func NewSelector(finder SongFinder, minimum int) *Selector {
	if minimum <= 0 {
		minimum = 5
	}
	return &Selector{finder: finder, minimum: minimum, shuffle: rand.Shuffle}
}

// Select returns the channel's songs outside exclude, least played first
// and shuffled among songs with equal play counts. A channel without genres
// or languages matches nothing. Catalog errors are returned as-is with an
// empty selection; they are not retried.
func (s *Selector) Select(ctx context.Context, channel models.Channel, exclude ExclusionSet) (Selection, error) {
	if len(channel.Genres) == 0 || len(channel.Languages) == 0 {
		return Selection{Songs: []models.Song{}, NeedsAugment: true}, nil
	}

	found, err := s.finder.FindByFilter(ctx, storage.SongFilter{
		Genres:    channel.Genres,
		Languages: channel.Languages,
		Exclude:   exclude.IDs(),
		Years:     channel.YearRange(),
	})
	if err != nil {
		return Selection{Songs: []models.Song{}, NeedsAugment: true}, fmt.Errorf("failed to select songs for %q: %w", channel.Name, err)
	}

	songs := make([]models.Song, 0, len(found))
	for _, song := range found {
		if !exclude.Has(song.VideoID) {
			songs = append(songs, song)
		}
	}

	sort.SliceStable(songs, func(i, j int) bool { return songs[i].PlayCount < songs[j].PlayCount })
	s.shuffleTiers(songs)

	return Selection{Songs: songs, NeedsAugment: len(songs) < s.minimum}, nil
}

// shuffleTiers shuffles each run of equal play counts in place.
func (s *Selector) shuffleTiers(songs []models.Song) {
	for start := 0; start < len(songs); {
		end := start + 1
		for end < len(songs) && songs[end].PlayCount == songs[start].PlayCount {
			end++
		}
		tier := songs[start:end]
		s.shuffle(len(tier), func(i, j int) { tier[i], tier[j] = tier[j], tier[i] })
		start = end
	}
}

// sortByLastPlayed orders never-played songs first, then oldest plays first.
func sortByLastPlayed(songs []models.Song) {
	sort.SliceStable(songs, func(i, j int) bool {
		a, b := songs[i].LastPlayed, songs[j].LastPlayed
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
}

package songrecommender

import (
	"sort"
	"strings"
	"unicode"

	"endless-chord/internal/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Match tiers, best first.
const (
	tierNone = iota
	tierExact
	tierTerms
	tierPartial
)

// DefaultConfidenceThreshold is the minimum score a search result needs.
const DefaultConfidenceThreshold = 0.3

// Ranked fields, in scoring order.
var rankedFields = []string{"title", "artist", "composer", "album", "genre", "language", "description", "tags"}

// Ranker scores songs against a free-text query.
type Ranker struct {
	weights   map[string]float64
	threshold float64
}

// NewRanker builds a ranker. Fields missing from weights default to 1.0;
// a non-positive threshold selects the default.
func NewRanker(weights map[string]float64, threshold float64) *Ranker {
	w := make(map[string]float64, len(rankedFields))
	for _, f := range rankedFields {
		w[f] = 1.0
		if v, ok := weights[f]; ok {
			w[f] = v
		}
	}
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Ranker{weights: w, threshold: threshold}
}

// ScoredSong is a song with its confidence for a query.
type ScoredSong struct {
	models.Song
	Score float64 `json:"confidence"`
}

// RankSearchResults returns the songs scoring at least the threshold, best
// first, ties going to the less played song.
// It is the library-level entry point; the HTTP search handler calls Rank
// and Kept directly so it can also report score statistics.
func (r *Ranker) RankSearchResults(songs []models.Song, query string) []models.Song {
	return r.Kept(r.Rank(songs, query))
}

// Kept returns the songs of a ranking that meet the threshold, in order.
func (r *Ranker) Kept(ranked []ScoredSong) []models.Song {
	out := make([]models.Song, 0, len(ranked))
	for _, s := range ranked {
		if s.Score >= r.threshold {
			out = append(out, s.Song)
		}
	}
	return out
}

// Rank scores every song and sorts by descending score, then ascending
// play count. Nothing is filtered.
func (r *Ranker) Rank(songs []models.Song, query string) []ScoredSong {
	q := newRankQuery(query)
	scored := make([]ScoredSong, len(songs))
	for i, s := range songs {
		scored[i] = ScoredSong{Song: s, Score: r.score(s, q)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].PlayCount < scored[j].PlayCount
	})
	return scored
}

// Score returns the confidence in [0,1] that song is what query asks for.
func (r *Ranker) Score(song models.Song, query string) float64 {
	return r.score(song, newRankQuery(query))
}

func (r *Ranker) score(song models.Song, q rankQuery) float64 {
	if q.text == "" {
		return 0
	}

	var total, present float64
	contributing, partialOnly := 0, 0
	exact, exactNamed := false, false

	for _, field := range rankedFields {
		w := r.weights[field]
		text := normalizeText(fieldText(song, field))
		if text == "" || w <= 0 {
			continue
		}
		present += w

		score, tier := scoreField(text, q, w)
		if score <= 0 {
			continue
		}
		total += score
		contributing++
		switch tier {
		case tierExact:
			exact = true
			if field == "title" || field == "artist" {
				exactNamed = true
			}
		case tierPartial:
			partialOnly++
		}
	}

	if present == 0 {
		return 0
	}

	score := total / present
	if exact {
		score *= 1.1
		if exactNamed {
			score += 0.05
		}
	}
	if contributing > 1 && partialOnly == contributing {
		score *= 0.7
	}
	return min(max(score, 0), 1)
}

func scoreField(text string, q rankQuery, w float64) (float64, int) {
	if text == q.text {
		return w, tierExact
	}
	if strings.Contains(text, q.text) {
		return 0.95 * w, tierExact
	}
	if len(q.terms) == 0 {
		return 0, tierNone
	}

	words := strings.Fields(text)
	index := make(map[string]int, len(words))
	for i, word := range words {
		if _, ok := index[word]; !ok {
			index[word] = i
		}
	}

	var matched []string
	for _, t := range q.terms {
		if _, ok := index[t]; ok {
			matched = append(matched, t)
		}
	}

	total := float64(len(q.terms))
	if 2*len(matched) > len(q.terms) {
		score := w * float64(len(matched)) / total
		if len(matched) > 1 && consecutive(words, matched) {
			score += 0.3 * w
		}
		if len(matched) == len(q.terms) {
			score += 0.2 * w
		}
		return min(score, 1.2*w), tierTerms
	}

	partial := 0
	for _, t := range q.terms {
		if _, ok := index[t]; ok {
			partial++
			continue
		}
		for _, word := range words {
			if len([]rune(word)) > 1 && (strings.Contains(word, t) || strings.Contains(t, word)) {
				partial++
				break
			}
		}
	}
	if partial == 0 {
		return 0, tierNone
	}
	return min(0.2*w*float64(partial)/total, 0.3*w), tierPartial
}

// consecutive reports whether terms occur as an adjacent run of words, in order.
func consecutive(words, terms []string) bool {
	for i := 0; i+len(terms) <= len(words); i++ {
		run := true
		for j, t := range terms {
			if words[i+j] != t {
				run = false
				break
			}
		}
		if run {
			return true
		}
	}
	return false
}

type rankQuery struct {
	text  string
	terms []string
}

func newRankQuery(query string) rankQuery {
	text := normalizeText(query)
	var terms []string
	seen := make(map[string]bool)
	for _, t := range strings.Fields(text) {
		if len([]rune(t)) > 1 && !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return rankQuery{text: text, terms: terms}
}

// normalizeText case-folds s, turns punctuation into spaces and collapses
// runs of whitespace.
func normalizeText(s string) string {
	if s == "" {
		return ""
	}
	folded := cases.Fold().String(norm.NFKC.String(s))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(mapped), " ")
}

func fieldText(s models.Song, field string) string {
	switch field {
	case "title":
		return s.Title
	case "artist":
		return s.Artist
	case "composer":
		return s.Composer
	case "album":
		return s.Album
	case "genre":
		return strings.Join(s.Genre, " ")
	case "language":
		return strings.Join(s.Language, " ")
	case "description":
		return s.Description
	case "tags":
		return strings.Join(s.Tags, " ")
	}
	return ""
}

// RankStats summarises a ranking pass for logging.
type RankStats struct {
	Original          int     `json:"originalCount"`
	Kept              int     `json:"filteredCount"`
	AverageConfidence float64 `json:"averageConfidence"`
	High              int     `json:"highConfidenceCount"`
	Medium            int     `json:"mediumConfidenceCount"`
	Low               int     `json:"lowConfidenceCount"`
}

// Stats buckets the songs of ranked that pass the threshold into high
// (above 0.7), medium (0.4 to 0.7) and low confidence.
func (r *Ranker) Stats(original int, ranked []ScoredSong) RankStats {
	stats := RankStats{Original: original}
	var sum float64
	for _, s := range ranked {
		if s.Score < r.threshold {
			continue
		}
		stats.Kept++
		sum += s.Score
		switch {
		case s.Score > 0.7:
			stats.High++
		case s.Score >= 0.4:
			stats.Medium++
		default:
			stats.Low++
		}
	}
	if stats.Kept > 0 {
		stats.AverageConfidence = sum / float64(stats.Kept)
	}
	return stats
}

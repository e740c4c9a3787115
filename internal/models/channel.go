package models

import "strconv"

// LanguageVarious marks channels that are not bound to a single language.
const LanguageVarious = "various"

// Channel is a named recommendation bucket. Channels are seeded from
// configuration and read-only to the recommender.
type Channel struct {
	ID          int64    `json:"id" yaml:"-"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Languages   []string `json:"languages" yaml:"languages"`
	Genres      []string `json:"genres" yaml:"genres"`
	StartYear   *int     `json:"startYear,omitempty" yaml:"start_year"`
	EndYear     *int     `json:"endYear,omitempty" yaml:"end_year"`
}

// YearRange returns the channel's year bounds, or nil when it has none.
func (c Channel) YearRange() *YearRange {
	if c.StartYear == nil && c.EndYear == nil {
		return nil
	}
	return &YearRange{From: c.StartYear, To: c.EndYear}
}

// IsSearch reports whether c is a synthetic search channel.
func (c Channel) IsSearch() bool {
	return c.Name == ""
}

// SearchChannel builds the non-persisted channel used to augment free-text
// search results through the same suggestion pipeline as real channels.
func SearchChannel(query string) Channel {
	return Channel{
		Languages:   []string{LanguageVarious},
		Description: query,
		Genres:      []string{},
	}
}

// YearRange bounds a release year. Either end may be open.
type YearRange struct {
	From *int
	To   *int
}

// Contains reports whether year falls inside r. Years that do not start
// with a four-digit number never match a bounded range.
func (r *YearRange) Contains(year string) bool {
	if r == nil {
		return true
	}
	y, ok := ParseYear(year)
	if !ok {
		return false
	}
	if r.From != nil && y < *r.From {
		return false
	}
	if r.To != nil && y > *r.To {
		return false
	}
	return true
}

// ParseYear extracts a leading four-digit year, e.g. "1994" or "1994 (remaster)".
func ParseYear(year string) (int, bool) {
	if len(year) < 4 {
		return 0, false
	}
	for i := 0; i < 4; i++ {
		if year[i] < '0' || year[i] > '9' {
			return 0, false
		}
	}
	if len(year) > 4 && year[4] >= '0' && year[4] <= '9' {
		return 0, false
	}
	y, err := strconv.Atoi(year[:4])
	if err != nil {
		return 0, false
	}
	return y, true
}

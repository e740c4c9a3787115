package models

import "time"

// Song is a catalog entry. VideoID is unique within the catalog once known.
type Song struct {
	ID          int64      `json:"id"`
	VideoID     string     `json:"videoId"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist,omitempty"`
	Composer    string     `json:"composer,omitempty"`
	Album       string     `json:"album,omitempty"`
	Year        string     `json:"year,omitempty"`
	Genre       []string   `json:"genre"`
	Language    []string   `json:"language"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	PlayCount   int        `json:"playCount"`
	LastPlayed  *time.Time `json:"lastPlayed,omitempty"`
}

// URL returns the watch URL of the song's video, or "" when unresolved.
func (s Song) URL() string {
	if s.VideoID == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + s.VideoID
}

// RawSuggestion is a validated candidate produced by the generative model.
// It becomes a Song only after its video reference is resolved.
type RawSuggestion struct {
	Title    string   `json:"title"`
	Artist   string   `json:"artist"`
	Composer string   `json:"composer,omitempty"`
	Album    string   `json:"album,omitempty"`
	Year     string   `json:"year,omitempty"`
	Genre    []string `json:"genre,omitempty"`
	Language []string `json:"language,omitempty"`
}

// VideoRef is a playable external video found for a suggestion.
type VideoRef struct {
	VideoID      string `json:"videoId"`
	DisplayTitle string `json:"displayTitle"`
}

// ResolvedSuggestion pairs a suggestion with the video it resolved to.
type ResolvedSuggestion struct {
	Suggestion RawSuggestion
	Video      VideoRef
}

// CacheEntry is the persisted per-channel snapshot of pre-fetched songs.
// Songs are embedded copies, not references into the catalog.
type CacheEntry struct {
	Channel     string    `json:"channel"`
	Songs       []Song    `json:"songs"`
	LastUpdated time.Time `json:"lastUpdated"`
	Updating    bool      `json:"updating"`
}

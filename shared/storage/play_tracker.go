package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// PlayTracker keeps a persistent per-listener history of recent plays so
// that a listener is not served songs they just heard.
type PlayTracker struct {
	filePath string
	plays    map[string]map[string]time.Time
	mu       sync.RWMutex
	maxAge   time.Duration
}

// TrackedPlay is one persisted play.
type TrackedPlay struct {
	Listener string    `json:"listener"`
	VideoID  string    `json:"video_id"`
	PlayedAt time.Time `json:"played_at"`
}

// NewPlayTracker creates a play tracker backed by a JSON file in dataDir.
func NewPlayTracker(dataDir string, maxAge time.Duration) (*PlayTracker, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	pt := &PlayTracker{
		filePath: filepath.Join(dataDir, "play_history.json"),
		plays:    make(map[string]map[string]time.Time),
		maxAge:   maxAge,
	}

	if err := pt.load(); err != nil {
		return nil, fmt.Errorf("failed to load play history: %w", err)
	}

	pt.cleanup()

	return pt, nil
}

// RecordPlay marks videoID as played by listener now and drops plays
// older than the tracker window before persisting.
func (pt *PlayTracker) RecordPlay(listener, videoID string) error {
	if listener == "" || videoID == "" {
		return nil
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	history, ok := pt.plays[listener]
	if !ok {
		history = make(map[string]time.Time)
		pt.plays[listener] = history
	}
	history[videoID] = time.Now()
	pt.cleanup()
	return pt.save()
}

// RecentIDs returns the video IDs listener played within the tracking window.
func (pt *PlayTracker) RecentIDs(listener string) []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	var ids []string
	for videoID, playedAt := range pt.plays[listener] {
		if time.Since(playedAt) < pt.maxAge {
			ids = append(ids, videoID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of tracked plays across all listeners.
func (pt *PlayTracker) Count() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	n := 0
	for _, history := range pt.plays {
		n += len(history)
	}
	return n
}

func (pt *PlayTracker) cleanup() {
	cutoff := time.Now().Add(-pt.maxAge)

	for listener, history := range pt.plays {
		for videoID, playedAt := range history {
			if playedAt.Before(cutoff) {
				delete(history, videoID)
			}
		}
		if len(history) == 0 {
			delete(pt.plays, listener)
		}
	}
}

func (pt *PlayTracker) load() error {
	file, err := os.Open(pt.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open play history: %w", err)
	}
	defer file.Close()

	var tracked []TrackedPlay
	if err := json.NewDecoder(file).Decode(&tracked); err != nil {
		return fmt.Errorf("failed to decode play history: %w", err)
	}

	for _, tp := range tracked {
		history, ok := pt.plays[tp.Listener]
		if !ok {
			history = make(map[string]time.Time)
			pt.plays[tp.Listener] = history
		}
		history[tp.VideoID] = tp.PlayedAt
	}
	return nil
}

// save writes the history through a temp file so a crash never leaves a
// truncated file behind.
func (pt *PlayTracker) save() error {
	var tracked []TrackedPlay
	for listener, history := range pt.plays {
		for videoID, playedAt := range history {
			tracked = append(tracked, TrackedPlay{Listener: listener, VideoID: videoID, PlayedAt: playedAt})
		}
	}

	tmp := pt.filePath + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(tracked); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode play history: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	return os.Rename(tmp, pt.filePath)
}

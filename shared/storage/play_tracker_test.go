package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPlayTrackerRecordsPerListener(t *testing.T) {
	dir := t.TempDir()

	pt, err := NewPlayTracker(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewPlayTracker() error = %v", err)
	}

	if err := pt.RecordPlay("alice", "vid1"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}
	if err := pt.RecordPlay("alice", "vid2"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}
	if err := pt.RecordPlay("bob", "vid3"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}

	got := pt.RecentIDs("alice")
	if len(got) != 2 || got[0] != "vid1" || got[1] != "vid2" {
		t.Errorf("RecentIDs(alice) = %v, want [vid1 vid2]", got)
	}
	if got := pt.RecentIDs("carol"); len(got) != 0 {
		t.Errorf("RecentIDs(carol) = %v, want empty", got)
	}
	if pt.Count() != 3 {
		t.Errorf("Count() = %d, want 3", pt.Count())
	}
}

func TestPlayTrackerIgnoresAnonymous(t *testing.T) {
	pt, err := NewPlayTracker(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewPlayTracker() error = %v", err)
	}
	if err := pt.RecordPlay("", "vid1"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}
	if pt.Count() != 0 {
		t.Errorf("Count() = %d, want 0", pt.Count())
	}
}

func TestPlayTrackerPersistence(t *testing.T) {
	dir := t.TempDir()

	pt, err := NewPlayTracker(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewPlayTracker() error = %v", err)
	}
	if err := pt.RecordPlay("alice", "vid1"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}

	reloaded, err := NewPlayTracker(dir, time.Hour)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if got := reloaded.RecentIDs("alice"); len(got) != 1 || got[0] != "vid1" {
		t.Errorf("RecentIDs after reload = %v, want [vid1]", got)
	}
}

func TestPlayTrackerDropsExpiredOnLoad(t *testing.T) {
	dir := t.TempDir()

	old := []TrackedPlay{
		{Listener: "alice", VideoID: "stale", PlayedAt: time.Now().Add(-48 * time.Hour)},
		{Listener: "alice", VideoID: "fresh", PlayedAt: time.Now().Add(-time.Hour)},
	}
	data, err := json.Marshal(old)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "play_history.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	pt, err := NewPlayTracker(dir, 36*time.Hour)
	if err != nil {
		t.Fatalf("NewPlayTracker() error = %v", err)
	}
	if pt.Count() != 1 {
		t.Errorf("Count() = %d, want 1", pt.Count())
	}
	if got := pt.RecentIDs("alice"); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("RecentIDs = %v, want [fresh]", got)
	}
}

func TestPlayTrackerPrunesOnRecord(t *testing.T) {
	dir := t.TempDir()

	pt, err := NewPlayTracker(dir, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPlayTracker() error = %v", err)
	}
	for i := range 50 {
		if err := pt.RecordPlay("alice", fmt.Sprintf("old-%d", i)); err != nil {
			t.Fatalf("RecordPlay() error = %v", err)
		}
	}
	if err := pt.RecordPlay("bob", "old-bob"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if err := pt.RecordPlay("alice", "new"); err != nil {
		t.Fatalf("RecordPlay() error = %v", err)
	}
	if pt.Count() != 1 {
		t.Errorf("Count() = %d, want 1", pt.Count())
	}
	if got := pt.RecentIDs("alice"); len(got) != 1 || got[0] != "new" {
		t.Errorf("RecentIDs = %v, want [new]", got)
	}

	reloaded, err := NewPlayTracker(dir, time.Hour)
	if err != nil {
		t.Fatalf("NewPlayTracker() reload error = %v", err)
	}
	if reloaded.Count() != 1 {
		t.Errorf("Count() after reload = %d, want 1", reloaded.Count())
	}
}

func TestPlayTrackerCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "play_history.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewPlayTracker(dir, time.Hour); err == nil {
		t.Error("expected error for corrupt history file")
	}
}

package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"endless-chord/shared/config"
)

type summary string

func (s summary) GetSummary() string { return string(s) }

type fakeAgent struct {
	runErr     error
	partialErr error
	runs       int
}

func (f *fakeAgent) Name() string { return "fake" }
func (f *fakeAgent) Initialize(ctx context.Context) error { return nil }

func (f *fakeAgent) RunOnce(ctx context.Context, events *AgentEvents) error {
	f.runs++
	if f.runErr != nil {
		return f.runErr
	}
	if f.partialErr != nil {
		events.OnPartialFailure(f.partialErr, time.Millisecond)
	}
	events.OnSuccess(summary("warmed 2 channels"), time.Millisecond)
	return nil
}

func TestRunOnceRecordsSuccess(t *testing.T) {
	agent := &fakeAgent{partialErr: errors.New("one channel failed")}
	s := New(&config.Config{Schedule: "@every 1h"}, agent)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if agent.runs != 1 {
		t.Errorf("runs = %d, want 1", agent.runs)
	}
	if !s.Monitor().IsHealthy() {
		t.Error("monitor should be healthy after a successful run")
	}
	if !strings.Contains(s.Monitor().GetStatusSummary(), "warmed 2 channels") {
		t.Errorf("status = %q", s.Monitor().GetStatusSummary())
	}
}

func TestRunOnceRecordsFailure(t *testing.T) {
	agent := &fakeAgent{runErr: errors.New("catalog down")}
	s := New(&config.Config{Schedule: "@every 1h"}, agent)

	err := s.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "catalog down") {
		t.Fatalf("RunOnce() error = %v, want wrapped agent error", err)
	}
	if s.Monitor().IsHealthy() {
		t.Error("monitor should be unhealthy after a failed run")
	}
}

package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Output: &buf, Level: "debug", Service: "test"})

	l := WithComponent("songcache")
	l.Info().Str("channel", "Lofi").Msg("refreshed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "songcache" {
		t.Errorf("component = %v, want songcache", entry["component"])
	}
	if entry["service"] != "test" {
		t.Errorf("service = %v, want test", entry["service"])
	}
	if entry["channel"] != "Lofi" {
		t.Errorf("channel = %v, want Lofi", entry["channel"])
	}
}

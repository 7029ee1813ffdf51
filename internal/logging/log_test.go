package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) lines() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(s.b.String()), "\n") {
		if l == "" { continue }
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err == nil { out = append(out, m) }
	}
	return out
}

func TestLog_LevelFilterAndFlush(t *testing.T) {
	var buf syncBuffer
	stop := start("info", 16, &buf, nil)
	Debug("hidden")
	Info("shown", F("k", "v"))
	Error("failed", Err(errors.New("boom")))
	stop()

	lines := buf.lines()
	if len(lines) != 2 { t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines) }
	if lines[0]["msg"] != "shown" || lines[0]["level"] != "info" {
		t.Fatalf("unexpected first line: %v", lines[0])
	}
	fields, _ := lines[1]["fields"].(map[string]any)
	if fields["err"] != "boom" { t.Fatalf("err field missing: %v", lines[1]) }
}

func TestEventLogger_TickSchema(t *testing.T) {
	var buf syncBuffer
	stop := start("debug", 16, &buf, nil)
	ev := NewEventLogger()
	ev.Tick("01RUN", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), []string{"20240104"}, "20231202", "success", "")
	ev.Lock("contended", "redis", false, "held")
	stop()

	lines := buf.lines()
	if len(lines) != 2 { t.Fatalf("expected 2 lines, got %d", len(lines)) }
	f, _ := lines[0]["fields"].(map[string]any)
	if f["event"] != "tick" || f["as_of"] != "2024-01-01" || f["retired_key"] != "20231202" {
		t.Fatalf("tick fields: %v", f)
	}
	if lines[1]["level"] != "warn" { t.Fatalf("contended lock should warn: %v", lines[1]) }
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"debug": DebugLevel, " WARN ": WarnLevel, "error": ErrorLevel, "": InfoLevel, "bogus": InfoLevel}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

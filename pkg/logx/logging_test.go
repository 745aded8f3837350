package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("truncate passthrough = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 {
		t.Fatalf("len = %d, want 20", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing ellipsis: %q", got)
	}
}

func TestFormatDiscordJSON(t *testing.T) {
	t.Parallel()
	line := `{"level":"warn","time":"2025-03-10T09:00:00Z","message":"send failed","task_id":"t1"}`
	got := formatDiscordJSON([]byte(line))
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("prefix wrong: %q", got)
	}
	if !strings.Contains(got, "task_id=t1") {
		t.Fatalf("field missing: %q", got)
	}
	if strings.Contains(got, "2025-03-10T09") {
		t.Fatalf("time field should be dropped: %q", got)
	}

	// non-JSON input degrades to trimmed plain text
	if got := formatDiscordJSON([]byte("  plain line \n")); got != "plain line" {
		t.Fatalf("plain input = %q", got)
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// must not panic
	l.Info("ignored", String("k", "v"))
	Nop().Error("ignored", Err(nil))
}

func TestWithAddsFields(t *testing.T) {
	t.Parallel()
	l := Nop().With(String("comp", "test"))
	if l.IsZero() {
		t.Fatal("With should produce a non-zero logger")
	}
	l.Info("still safe")
}

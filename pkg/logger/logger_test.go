package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriterLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, LogInfo)

	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warnf("careful")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should have been dropped: %q", out)
	}
	if !strings.Contains(out, "INFO: shown 2") {
		t.Errorf("missing info line: %q", out)
	}
	if !strings.Contains(out, "WARN: careful") {
		t.Errorf("missing warn line: %q", out)
	}

	l.SetLogLevel(LogDebug)
	l.Debugf("now visible")
	if !strings.Contains(buf.String(), "DEBUG: now visible") {
		t.Errorf("debug line missing after SetLogLevel")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogDebug,
		"INFO":    LogInfo,
		"":        LogInfo,
		"warning": LogWarn,
		"error":   LogError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestMemoryLoggerCounts(t *testing.T) {
	l := &MemoryLogger{}
	l.Warnf("a")
	l.Warnf("b")
	l.Infof("c")

	if got := l.Count(LogWarn); got != 2 {
		t.Errorf("warn count = %d, want 2", got)
	}
	if got := len(l.Entries()); got != 3 {
		t.Errorf("entries = %d, want 3", got)
	}
}

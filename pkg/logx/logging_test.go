package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("hello", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

func TestWithKeepsParentFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug")
	child := base.With(String("comp", "announce"))
	_ = base.With(String("comp", "other"))

	child.Warn("broadcast halted", Int64("chat", 42), Err(errors.New("boom")))
	out := buf.String()
	for _, want := range []string{`"comp":"announce"`, `"chat":42`, `"err":"boom"`, `"message":"broadcast halted"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestErrFieldNameWithoutService(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWriter(&buf, "info").Error("store down", Err(errors.New("timeout")))
	out := buf.String()
	if !strings.Contains(out, `"err":"timeout"`) || strings.Contains(out, `"error":`) {
		t.Fatalf("output %q, want the error under \"err\"", out)
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"store down","time":"x","b":2,"a":"1"}` + "\n"))
	want := "[WARN] store down\n- a=1\n- b=2"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}

	raw := formatTelegramJSON([]byte("  not json  "))
	if raw != "not json" {
		t.Fatalf("raw = %q, want %q", raw, "not json")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, LevelInfo); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestNew_JSONWithTee(t *testing.T) {
	var out, tee bytes.Buffer
	l := New(&out, Options{Level: "debug", Format: "json", Tee: &tee})
	l.Debug("fix processed", "plot_no", "17")

	var rec map[string]any
	if err := json.Unmarshal(out.Bytes(), &rec); err != nil {
		t.Fatalf("output is not json: %q", out.String())
	}
	if rec["msg"] != "fix processed" || rec["plot_no"] != "17" {
		t.Fatalf("rec=%v", rec)
	}
	if tee.String() != out.String() {
		t.Fatalf("tee=%q out=%q", tee.String(), out.String())
	}
}

func TestNew_TextDropsBelowLevel(t *testing.T) {
	var out bytes.Buffer
	l := New(&out, Options{Level: "warn", Format: "text"})
	l.Info("quiet")
	l.Warn("loud")
	s := out.String()
	if strings.Contains(s, "quiet") || !strings.Contains(s, "loud") {
		t.Fatalf("out=%q", s)
	}
}

func TestOr(t *testing.T) {
	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if Or(own) != own {
		t.Fatalf("Or should keep a non-nil logger")
	}
	if Or(nil) == nil {
		t.Fatalf("Or(nil) should return the default logger")
	}
}

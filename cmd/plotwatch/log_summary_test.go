package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plotwatch/internal/fixlog"
)

func TestSummarizeFixLog(t *testing.T) {
	recs := []fixlog.Record{
		{Start: true},
		{At: 0, LatDeg: 22.57, LonDeg: 88.36, AccuracyM: 4},
		{At: 500 * time.Millisecond, LatDeg: 22.5701, LonDeg: 88.36, AccuracyM: 6},
		{Start: true, At: 0},
		{At: 2 * time.Second, LatDeg: 22.5702, LonDeg: 88.3601, AccuracyM: 25},
	}

	s := summarizeFixLog(recs)
	if s.Segments != 2 {
		t.Fatalf("segments=%d want %d", s.Segments, 2)
	}
	if s.Fixes != 3 {
		t.Fatalf("fixes=%d want %d", s.Fixes, 3)
	}
	if s.MaxDuration != 2*time.Second {
		t.Fatalf("maxDuration=%s want %s", s.MaxDuration, 2*time.Second)
	}
	if s.MinAccM != 4 || s.MaxAccM != 25 || s.Unreliable != 1 {
		t.Fatalf("accuracy min=%v max=%v unreliable=%d", s.MinAccM, s.MaxAccM, s.Unreliable)
	}
	if s.MeanAccM < 11.66 || s.MeanAccM > 11.67 {
		t.Fatalf("mean=%v", s.MeanAccM)
	}
	// Only the first segment has two fixes: 0.0001 deg of latitude is ~11 m.
	if s.PathM < 10 || s.PathM > 12 {
		t.Fatalf("path=%v", s.PathM)
	}
	if s.Bound.Min[1] != 22.57 || s.Bound.Max[1] != 22.5702 || s.Bound.Max[0] != 88.3601 {
		t.Fatalf("bound=%v", s.Bound)
	}
}

func TestSummarizeFixLog_NoStartLine(t *testing.T) {
	s := summarizeFixLog([]fixlog.Record{{LatDeg: 1, LonDeg: 2, AccuracyM: 3}})
	if s.Segments != 1 || s.Fixes != 1 {
		t.Fatalf("summary=%+v", s)
	}
	if s := summarizeFixLog(nil); s.Segments != 0 || s.Fixes != 0 {
		t.Fatalf("empty summary=%+v", s)
	}
}

func TestPrintLogSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.log")
	if err := os.WriteFile(path, []byte("# walk\nSTART\n0,22.57,88.36,4\n1000000000,22.5701,88.36,6\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	var buf bytes.Buffer
	if err := printLogSummary(&buf, path); err != nil {
		t.Fatalf("printLogSummary() error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"segments: 1\n", "fixes: 2\n", "max_duration: 1s\n", "unreliable_fixes: 0\n"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}

	if err := printLogSummary(&buf, "  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

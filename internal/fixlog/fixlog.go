// Package fixlog records and replays position fixes.
//
// Log format is line-oriented text:
//   - blank lines and lines starting with '#' are ignored
//   - "START" resets the time origin
//   - data lines are <t_ns>,<lat_deg>,<lon_deg>,<accuracy_m> where t_ns is
//     nanoseconds since the last START
package fixlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Record struct {
	At        time.Duration
	LatDeg    float64
	LonDeg    float64
	AccuracyM float64
	// Start marks a START line; the position fields are unset.
	Start bool
}

func ReadAll(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	recs := make([]Record, 0, 256)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{Start: true})
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("fixlog line %d: want 4 fields, got %d", lineNo, len(parts))
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil || ns < 0 {
			return nil, fmt.Errorf("fixlog line %d: invalid timestamp %q", lineNo, parts[0])
		}
		var vals [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("fixlog line %d: invalid number %q", lineNo, parts[i+1])
			}
			vals[i] = v
		}
		if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 180 {
			return nil, fmt.Errorf("fixlog line %d: coordinate out of range", lineNo)
		}
		recs = append(recs, Record{At: time.Duration(ns), LatDeg: vals[0], LonDeg: vals[1], AccuracyM: vals[2]})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

// Writer appends fixes to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	c      io.Closer
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func NewWriter(w io.Writer, start time.Time) (*Writer, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("START\n"); err != nil {
		return nil, err
	}
	out := &Writer{w: bw, start: start}
	if c, ok := w.(io.Closer); ok {
		out.c = c
	}
	return out, nil
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, time.Now())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (ww *Writer) Write(now time.Time, latDeg, lonDeg, accuracyM float64) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("fixlog writer is closed")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s,%s,%s\n", d.Nanoseconds(),
		strconv.FormatFloat(latDeg, 'f', -1, 64),
		strconv.FormatFloat(lonDeg, 'f', -1, 64),
		strconv.FormatFloat(accuracyM, 'f', -1, 64),
	)
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	err := ww.w.Flush()
	if ww.c != nil {
		if cerr := ww.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// SleepFunc waits for d or until ctx ends, reporting whether d elapsed.
type SleepFunc func(ctx context.Context, d time.Duration) bool

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Play calls cb for each position record, waiting out the recorded gaps
// divided by speed. It returns nil at the end of the log (unless looping)
// and ctx.Err() when cancelled.
func Play(ctx context.Context, records []Record, speed float64, loop bool, sleeper SleepFunc, cb func(Record) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if sleeper == nil {
		sleeper = sleep
	}
	n := 0
	for _, r := range records {
		if !r.Start {
			n++
		}
	}
	if n == 0 {
		return errors.New("no records")
	}

	for {
		var lastAt time.Duration
		haveLast := false
		for _, r := range records {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.Start {
				haveLast = false
				continue
			}
			if haveLast {
				if wait := time.Duration(float64(r.At-lastAt) / speed); wait > 0 {
					if !sleeper(ctx, wait) {
						return ctx.Err()
					}
				}
			}
			if err := cb(r); err != nil {
				return err
			}
			lastAt = r.At
			haveLast = true
		}
		if !loop {
			return nil
		}
	}
}

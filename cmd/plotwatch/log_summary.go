package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"plotwatch/internal/fixlog"
)

type logSummary struct {
	Segments    int
	Fixes       int
	MaxDuration time.Duration
	Bound       orb.Bound
	// PathM is the walked distance, summed per segment.
	PathM      float64
	MinAccM    float64
	MaxAccM    float64
	MeanAccM   float64
	Unreliable int
}

// unreliableAccuracyM marks fixes too coarse to pin a 10 m plot.
const unreliableAccuracyM = 20.0

func summarizeFixLog(records []fixlog.Record) logSummary {
	var s logSummary
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	segments := 0
	var prev orb.Point
	havePrev := false
	sumAcc := 0.0

	for _, r := range records {
		if r.Start {
			segments++
			origin = r.At
			havePrev = false
			continue
		}

		pt := orb.Point{r.LonDeg, r.LatDeg}
		if s.Fixes == 0 {
			s.Bound = pt.Bound()
			s.MinAccM = r.AccuracyM
			s.MaxAccM = r.AccuracyM
		} else {
			s.Bound = s.Bound.Extend(pt)
			s.MinAccM = math.Min(s.MinAccM, r.AccuracyM)
			s.MaxAccM = math.Max(s.MaxAccM, r.AccuracyM)
		}
		s.Fixes++
		sumAcc += r.AccuracyM
		if r.AccuracyM > unreliableAccuracyM {
			s.Unreliable++
		}

		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		if havePrev {
			s.PathM += geo.Distance(prev, pt)
		}
		prev = pt
		havePrev = true
	}
	if segments == 0 && s.Fixes > 0 {
		segments = 1
	}
	s.Segments = segments
	if s.Fixes > 0 {
		s.MeanAccM = sumAcc / float64(s.Fixes)
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := fixlog.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeFixLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "fixes: %d\n", s.Fixes)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	if s.Fixes == 0 {
		return nil
	}
	fmt.Fprintf(w, "path_m: %.1f\n", s.PathM)
	fmt.Fprintf(w, "bound: [%.6f,%.6f] - [%.6f,%.6f]\n", s.Bound.Min[1], s.Bound.Min[0], s.Bound.Max[1], s.Bound.Max[0])
	fmt.Fprintf(w, "accuracy_m: min=%.1f mean=%.1f max=%.1f\n", s.MinAccM, s.MeanAccM, s.MaxAccM)
	fmt.Fprintf(w, "unreliable_fixes: %d\n", s.Unreliable)
	return nil
}

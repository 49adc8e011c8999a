// Package session wires one tracking session together: the dataset, the
// matcher, the tracker, the highlight state and the display sinks.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"plotwatch/internal/display"
	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
	"plotwatch/internal/match"
	"plotwatch/internal/metrics"
	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
	"plotwatch/internal/tracker"
)

type Options struct {
	Build    parcel.BuildOptions
	Engine   match.Engine
	Provider position.Provider
	Tracker  tracker.Options
	// Sinks receive every event and alert. Sinks implementing io.Closer are
	// closed by Close.
	Sinks  []display.Sink
	Logger *slog.Logger
	Now    func() time.Time
}

type Session struct {
	id      string
	started time.Time
	now     func() time.Time
	log     *slog.Logger

	build   parcel.BuildOptions
	engine  match.Engine
	holder  *parcel.Holder
	hl      *highlight.State
	sinks   []display.Sink
	sink    display.Multi
	tracker *tracker.Tracker

	mu       sync.RWMutex
	source   string
	loading  bool
	loaded   bool
	loadedAt time.Time
	report   parcel.Report
	loadErr  error
	closed   bool
}

func New(opts Options) *Session {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lg := logger.Or(opts.Logger)
	s := &Session{
		id:      uuid.NewString(),
		started: now().UTC(),
		now:     now,
		build:   opts.Build,
		engine:  opts.Engine,
		holder:  &parcel.Holder{},
		hl:      highlight.NewState(),
		sinks:   opts.Sinks,
		sink:    display.Multi(opts.Sinks),
	}
	s.log = lg.With("session", s.id)

	topts := opts.Tracker
	if topts.Logger == nil {
		topts.Logger = s.log
	}
	if topts.Now == nil {
		topts.Now = now
	}
	s.tracker = tracker.New(opts.Provider, s.engine, s.holder, s.hl, s.sink, topts)
	return s
}

func (s *Session) ID() string { return s.id }

// Datasets exposes the dataset holder; Dataset returns nil until loaded.
func (s *Session) Datasets() *parcel.Holder { return s.holder }

func (s *Session) Highlight() *highlight.State { return s.hl }

// LoadDataset loads src in the background. Tracking may already be running;
// fixes resolve to "no match" until the dataset is published. The returned
// channel yields the load error (nil on success) and is then closed.
//
// A failed load publishes an empty dataset and alerts the sinks once.
func (s *Session) LoadDataset(ctx context.Context, src parcel.Source) <-chan error {
	out := make(chan error, 1)
	s.mu.Lock()
	s.source = src.String()
	s.loading = true
	s.mu.Unlock()
	s.log.Info("dataset loading", "source", src.String())

	s.holder.LoadAsync(ctx, src, s.build, func(rep parcel.Report, err error) {
		s.mu.Lock()
		s.loading = false
		s.loaded = err == nil
		s.loadedAt = s.now().UTC()
		s.report = rep
		s.loadErr = err
		s.mu.Unlock()

		metrics.DatasetParcels.Set(float64(rep.Parcels))
		metrics.DatasetSkipped.Set(float64(len(rep.Skipped)))

		if err != nil {
			s.log.Error("dataset load failed", "source", src.String(), "err", err)
			s.sink.Alert(display.DatasetNotice(err, s.now()))
		} else {
			s.log.Info("dataset loaded", "source", src.String(), "features", rep.Features, "parcels", rep.Parcels, "skipped", len(rep.Skipped))
			for _, sk := range rep.Skipped {
				s.log.Warn("feature skipped", "index", sk.Index, "reason", sk.Reason)
			}
			if rep.UnionErr != nil {
				s.log.Warn("boundary union failed, fallback matching disabled", "err", rep.UnionErr)
			}
		}
		out <- err
		close(out)
	})
	return out
}

func (s *Session) StartTracking() error { return s.tracker.Start() }

func (s *Session) StopTracking() { s.tracker.Stop() }

// Locate runs a one-shot match against the current dataset. It does not
// touch the highlight state or the sinks.
func (s *Session) Locate(latDeg, lonDeg float64) match.Result {
	return s.engine.Locate(position.Fix{LatDeg: latDeg, LonDeg: lonDeg}, s.holder.Dataset())
}

type DatasetStatus struct {
	Source      string        `json:"source,omitempty"`
	Loading     bool          `json:"loading"`
	Loaded      bool          `json:"loaded"`
	LoadedAt    *time.Time    `json:"loaded_at,omitempty"`
	Features    int           `json:"features"`
	Parcels     int           `json:"parcels"`
	Skipped     []parcel.Skip `json:"skipped,omitempty"`
	HasBoundary bool          `json:"has_boundary"`
	Error       string        `json:"error,omitempty"`
	UnionError  string        `json:"union_error,omitempty"`
}

type Status struct {
	SessionID       string           `json:"session_id"`
	StartedAt       time.Time        `json:"started_at"`
	Tracker         tracker.State    `json:"tracker_state"`
	Stats           tracker.Stats    `json:"tracker_stats"`
	Dataset         DatasetStatus    `json:"dataset"`
	CurrentParcelID *string          `json:"current_plot_no"`
	LastEvent       *highlight.Event `json:"last_event,omitempty"`
}

func (s *Session) Status() Status {
	st := Status{
		SessionID: s.id,
		StartedAt: s.started,
		Tracker:   s.tracker.State(),
		Stats:     s.tracker.Stats(),
	}

	s.mu.RLock()
	ds := DatasetStatus{
		Source:   s.source,
		Loading:  s.loading,
		Loaded:   s.loaded,
		Features: s.report.Features,
		Parcels:  s.report.Parcels,
		Skipped:  append([]parcel.Skip(nil), s.report.Skipped...),
	}
	if !s.loadedAt.IsZero() {
		at := s.loadedAt
		ds.LoadedAt = &at
	}
	if s.loadErr != nil {
		ds.Error = s.loadErr.Error()
	}
	if s.report.UnionErr != nil {
		ds.UnionError = s.report.UnionErr.Error()
	}
	s.mu.RUnlock()
	ds.HasBoundary = s.holder.Dataset().HasBoundary()
	st.Dataset = ds

	if id, ok := s.hl.Current(); ok {
		st.CurrentParcelID = &id
	}
	if ev, ok := s.hl.Last(); ok {
		st.LastEvent = &ev
	}
	return st
}

// Close stops tracking and closes closable sinks. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.tracker.Stop()
	var first error
	for _, sk := range s.sinks {
		c, ok := sk.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			s.log.Warn("sink close failed", "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

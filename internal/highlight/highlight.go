// Package highlight tracks the single currently highlighted parcel.
package highlight

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"plotwatch/internal/match"
	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
)

// Event describes one highlight update. A renderer clears
// PreviousParcelID (when set and Changed) and highlights NewParcelID.
type Event struct {
	Seq              uint64
	PreviousParcelID string
	NewParcelID      string
	// Parcel is the matched parcel, nil when nothing matched.
	Parcel         *parcel.Parcel
	AccuracyM      float64
	Fix            position.Fix
	InsideBoundary bool
	DistanceM      float64
	Kind           string
	Changed        bool
	At             time.Time
}

func (e Event) Matched() bool { return e.Parcel != nil }

type eventJSON struct {
	Seq              uint64       `json:"seq"`
	PreviousParcelID *string      `json:"previous_plot_no"`
	ParcelID         *string      `json:"plot_no"`
	Part             int          `json:"part,omitempty"`
	AccuracyM        float64      `json:"accuracy_m"`
	Fix              position.Fix `json:"fix"`
	InsideBoundary   bool         `json:"inside_boundary"`
	// DistanceM is null when no parcel exists to measure against.
	DistanceM *float64  `json:"distance_m"`
	Kind      string    `json:"kind"`
	Changed   bool      `json:"changed"`
	At        time.Time `json:"at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Seq:            e.Seq,
		AccuracyM:      e.AccuracyM,
		Fix:            e.Fix,
		InsideBoundary: e.InsideBoundary,
		Kind:           e.Kind,
		Changed:        e.Changed,
		At:             e.At,
	}
	if e.PreviousParcelID != "" {
		v := e.PreviousParcelID
		out.PreviousParcelID = &v
	}
	if e.Parcel != nil {
		v := e.NewParcelID
		out.ParcelID = &v
		out.Part = e.Parcel.Part
	}
	if !math.IsInf(e.DistanceM, 0) && !math.IsNaN(e.DistanceM) {
		v := e.DistanceM
		out.DistanceM = &v
	}
	return json.Marshal(out)
}

// State holds the current highlight. It is safe for concurrent use, but
// Apply is expected to be called from one processing loop.
type State struct {
	mu       sync.RWMutex
	current  string
	has      bool
	seq      uint64
	last     Event
	haveLast bool

	now func() time.Time
}

func NewState() *State {
	return &State{now: time.Now}
}

// Apply folds one match result into the state and returns the transition.
func (s *State) Apply(res match.Result, fix position.Fix) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	s.seq++
	ev := Event{
		Seq:            s.seq,
		Parcel:         res.Parcel,
		AccuracyM:      fix.AccuracyM,
		Fix:            fix,
		InsideBoundary: res.InsideBoundary,
		DistanceM:      res.DistanceM,
		Kind:           res.Kind(),
		At:             now().UTC(),
	}
	if s.has {
		ev.PreviousParcelID = s.current
	}

	if res.Parcel != nil {
		ev.NewParcelID = res.Parcel.ID
		ev.Changed = !s.has || s.current != res.Parcel.ID
		s.current, s.has = res.Parcel.ID, true
	} else {
		ev.Changed = s.has
		s.current, s.has = "", false
	}

	s.last, s.haveLast = ev, true
	return ev
}

// Current returns the highlighted parcel id.
func (s *State) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.has
}

func (s *State) Last() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.haveLast
}

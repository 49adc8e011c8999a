// Package tracker runs the Idle/Watching state machine that feeds position
// fixes through matching and into the highlight state.
//
// Fixes land in a single-slot mailbox: a fix that arrives while another is
// being processed replaces any older unprocessed one, so highlights never go
// backwards in time. One consumer goroutine per watch does all processing,
// which keeps match, highlight and render strictly sequential.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"plotwatch/internal/display"
	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
	"plotwatch/internal/match"
	"plotwatch/internal/metrics"
	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
)

// DefaultAcquisitionTimeout bounds how long a watch may go without a fix
// before a Timeout is reported.
const DefaultAcquisitionTimeout = 10 * time.Second

type State int

const (
	Idle State = iota
	Watching
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Watching:
		return "watching"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Locator is satisfied by match.Engine.
type Locator interface {
	Locate(fix position.Fix, ds *parcel.Dataset) match.Result
}

// DatasetSource returns the current dataset, or nil while it is loading.
type DatasetSource interface {
	Dataset() *parcel.Dataset
}

type Options struct {
	HighAccuracy       bool
	AcquisitionTimeout time.Duration
	Logger             *slog.Logger
	Now                func() time.Time
}

// Stats are cumulative over the tracker's lifetime.
type Stats struct {
	Generation     uint64    `json:"generation"`
	FixesReceived  uint64    `json:"fixes_received"`
	FixesProcessed uint64    `json:"fixes_processed"`
	FixesCoalesced uint64    `json:"fixes_coalesced"`
	Errors         uint64    `json:"errors"`
	LastFixAt      time.Time `json:"last_fix_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

type Tracker struct {
	provider position.Provider
	locator  Locator
	datasets DatasetSource
	hl       *highlight.State
	sink     display.Sink
	opts     Options
	log      *slog.Logger

	// ctl serializes Start and Stop.
	ctl sync.Mutex

	mu        sync.Mutex
	state     State
	run       *run
	gen       uint64
	lastFixAt time.Time
	lastErr   string

	received  atomic.Uint64
	processed atomic.Uint64
	coalesced atomic.Uint64
	errs      atomic.Uint64
}

func New(provider position.Provider, locator Locator, datasets DatasetSource, hl *highlight.State, sink display.Sink, opts Options) *Tracker {
	if locator == nil {
		locator = match.Engine{}
	}
	if hl == nil {
		hl = highlight.NewState()
	}
	if sink == nil {
		sink = display.Nop{}
	}
	if opts.AcquisitionTimeout <= 0 {
		opts.AcquisitionTimeout = DefaultAcquisitionTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		provider: provider,
		locator:  locator,
		datasets: datasets,
		hl:       hl,
		sink:     sink,
		opts:     opts,
		log:      logger.Or(opts.Logger),
	}
}

// Start begins watching. A running watch is cancelled first, so at most one
// subscription is ever active.
//
// When the provider is missing or refuses to subscribe, Start returns the
// error, alerts the sink once and leaves the tracker Idle.
func (t *Tracker) Start() error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.stopLocked()

	if t.provider == nil {
		err := fmt.Errorf("%w: no position provider configured", position.ErrCapabilityUnavailable)
		t.startFailed(err)
		return err
	}

	t.mu.Lock()
	t.gen++
	r := newRun(t, t.gen)
	t.mu.Unlock()

	go t.loop(r)

	sub, err := t.provider.Subscribe(r.onFix, r.onError, position.Options{
		HighAccuracy:       t.opts.HighAccuracy,
		MaxFixAge:          0,
		AcquisitionTimeout: t.opts.AcquisitionTimeout,
	})
	if err != nil {
		r.shutdown()
		<-r.done
		t.startFailed(err)
		return err
	}
	if !r.setSub(sub) {
		// Aborted (permission denied) before Subscribe returned.
		<-r.done
		return r.abortErr
	}

	t.mu.Lock()
	t.run = r
	t.state = Watching
	t.mu.Unlock()
	t.log.Info("tracking started", "generation", r.gen, "acquisition_timeout", t.opts.AcquisitionTimeout.String())
	return nil
}

func (t *Tracker) startFailed(err error) {
	t.errs.Add(1)
	t.recordErr(err)
	if errors.Is(err, position.ErrCapabilityUnavailable) {
		metrics.ProviderErrorsTotal.WithLabelValues("capability_unavailable").Inc()
	} else if code, ok := position.CodeOf(err); ok {
		metrics.ProviderErrorsTotal.WithLabelValues(code.String()).Inc()
	}
	t.log.Warn("tracking start failed", "err", err)
	t.sink.Alert(display.NoticeFromError(err, t.opts.Now()))
}

// Stop cancels the active watch and waits until its last fix has been
// processed. It is idempotent.
func (t *Tracker) Stop() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.stopLocked()
}

func (t *Tracker) stopLocked() {
	t.mu.Lock()
	r := t.run
	t.run = nil
	t.state = Idle
	t.mu.Unlock()
	if r == nil {
		return
	}
	r.shutdown()
	<-r.done
	t.log.Info("tracking stopped", "generation", r.gen)
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	s := Stats{Generation: t.gen, LastFixAt: t.lastFixAt, LastError: t.lastErr}
	t.mu.Unlock()
	s.FixesReceived = t.received.Load()
	s.FixesProcessed = t.processed.Load()
	s.FixesCoalesced = t.coalesced.Load()
	s.Errors = t.errs.Load()
	return s
}

func (t *Tracker) recordErr(err error) {
	t.mu.Lock()
	t.lastErr = err.Error()
	t.mu.Unlock()
}

// loop is the single consumer for one watch.
func (t *Tracker) loop(r *run) {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case <-r.wake:
		}

		fix, errs := r.take()
		for _, err := range errs {
			if r.quitting() {
				return
			}
			if t.handleError(r, err) {
				return
			}
		}
		if fix == nil || r.quitting() {
			continue
		}
		t.process(*fix)
	}
}

// handleError reports err and reports whether the watch was aborted.
func (t *Tracker) handleError(r *run, err error) bool {
	t.errs.Add(1)
	t.recordErr(err)
	code, _ := position.CodeOf(err)
	label := "other"
	if code != 0 {
		label = code.String()
	}
	metrics.ProviderErrorsTotal.WithLabelValues(label).Inc()
	t.sink.Alert(display.NoticeFromError(err, t.opts.Now()))

	if code != position.PermissionDenied {
		t.log.Warn("position error", "generation", r.gen, "code", label, "err", err)
		return false
	}

	t.log.Error("position permission denied, tracking stopped", "generation", r.gen, "err", err)
	t.mu.Lock()
	if t.run == r {
		t.run = nil
		t.state = Idle
	}
	t.mu.Unlock()
	r.abortErr = err
	r.shutdown()
	return true
}

func (t *Tracker) process(fix position.Fix) {
	var ds *parcel.Dataset
	if t.datasets != nil {
		ds = t.datasets.Dataset()
	}

	start := time.Now()
	res := t.locator.Locate(fix, ds)
	metrics.LocateDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000)
	metrics.MatchesTotal.WithLabelValues(res.Kind()).Inc()

	ev := t.hl.Apply(res, fix)
	t.sink.Render(ev)

	t.processed.Add(1)
	metrics.FixesProcessedTotal.Inc()
	t.mu.Lock()
	t.lastFixAt = fix.Time
	t.mu.Unlock()
}

package tracker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"plotwatch/internal/display"
	"plotwatch/internal/fixlog"
	"plotwatch/internal/highlight"
	"plotwatch/internal/match"
	"plotwatch/internal/parcel"
	"plotwatch/internal/parcel/parceltest"
	"plotwatch/internal/position"
)

// fakeSub keeps its callbacks after Cancel so tests can fire orphans.
type fakeSub struct {
	onFix   func(position.Fix)
	onErr   func(error)
	opts    position.Options
	cancels atomic.Int32
}

func (s *fakeSub) Cancel() { s.cancels.Add(1) }

type fakeProvider struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (p *fakeProvider) Subscribe(onFix func(position.Fix), onError func(error), opts position.Options) (position.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	s := &fakeSub{onFix: onFix, onErr: onError, opts: opts}
	p.subs = append(p.subs, s)
	return s, nil
}

func (p *fakeProvider) sub(i int) *fakeSub {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subs[i]
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

type countingLocator struct {
	calls atomic.Int32
	match.Engine
}

func (l *countingLocator) Locate(fix position.Fix, ds *parcel.Dataset) match.Result {
	l.calls.Add(1)
	return l.Engine.Locate(fix, ds)
}

type recordingSink struct {
	mu      sync.Mutex
	events  []highlight.Event
	notices []display.Notice
}

func (s *recordingSink) Render(ev highlight.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Alert(n display.Notice) {
	s.mu.Lock()
	s.notices = append(s.notices, n)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() ([]highlight.Event, []display.Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]highlight.Event(nil), s.events...), append([]display.Notice(nil), s.notices...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func fixAt(eastM, northM float64) position.Fix {
	p := parceltest.Offset(parceltest.Origin, eastM, northM)
	return position.Fix{LonDeg: p[0], LatDeg: p[1], AccuracyM: 5, Time: time.Now().UTC()}
}

func loadedHolder(t *testing.T) *parcel.Holder {
	t.Helper()
	ds, rep := parcel.Build(parceltest.TwoPlots(), parcel.BuildOptions{BoundaryMarginM: 50})
	if rep.UnionErr != nil {
		t.Fatalf("union err: %v", rep.UnionErr)
	}
	h := &parcel.Holder{}
	h.Set(ds)
	return h
}

func TestStart_SubscribesWithWatchOptions(t *testing.T) {
	p := &fakeProvider{}
	tr := New(p, nil, nil, nil, nil, Options{HighAccuracy: true})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	opts := p.sub(0).opts
	if !opts.HighAccuracy || opts.MaxFixAge != 0 || opts.AcquisitionTimeout != DefaultAcquisitionTimeout {
		t.Fatalf("opts=%+v", opts)
	}
	if tr.State() != Watching {
		t.Fatalf("state=%s", tr.State())
	}
}

func TestStart_RestartCancelsPreviousExactlyOnce(t *testing.T) {
	p := &fakeProvider{}
	loc := &countingLocator{}
	sink := &recordingSink{}
	tr := New(p, loc, loadedHolder(t), nil, sink, Options{})

	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer tr.Stop()

	if p.count() != 2 {
		t.Fatalf("subscriptions=%d want 2", p.count())
	}
	if n := p.sub(0).cancels.Load(); n != 1 {
		t.Fatalf("first subscription cancelled %d times", n)
	}
	if n := p.sub(1).cancels.Load(); n != 0 {
		t.Fatalf("active subscription cancelled %d times", n)
	}
	if g := tr.Stats().Generation; g != 2 {
		t.Fatalf("generation=%d", g)
	}

	// An orphan callback from the first subscription is dropped.
	p.sub(0).onFix(fixAt(0, 0))
	p.sub(1).onFix(fixAt(12, 0))
	waitFor(t, "one processed fix", func() bool { return tr.Stats().FixesProcessed == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := loc.calls.Load(); n != 1 {
		t.Fatalf("locate calls=%d want 1", n)
	}
	events, _ := sink.snapshot()
	if len(events) != 1 || events[0].NewParcelID != "P2" {
		t.Fatalf("events=%+v", events)
	}
}

func TestFix_ProcessedOnceThroughMatchHighlightRender(t *testing.T) {
	p := &fakeProvider{}
	loc := &countingLocator{}
	sink := &recordingSink{}
	hl := highlight.NewState()
	tr := New(p, loc, loadedHolder(t), hl, sink, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	p.sub(0).onFix(fixAt(0, 0))
	waitFor(t, "render", func() bool { ev, _ := sink.snapshot(); return len(ev) == 1 })

	if n := loc.calls.Load(); n != 1 {
		t.Fatalf("locate calls=%d", n)
	}
	events, _ := sink.snapshot()
	ev := events[0]
	if ev.NewParcelID != "P1" || !ev.Changed || ev.AccuracyM != 5 || ev.Kind != "strict" {
		t.Fatalf("event=%+v", ev)
	}
	if cur, ok := hl.Current(); !ok || cur != "P1" {
		t.Fatalf("current=%q,%v", cur, ok)
	}

	p.sub(0).onFix(fixAt(200, 0))
	waitFor(t, "second render", func() bool { ev, _ := sink.snapshot(); return len(ev) == 2 })
	events, _ = sink.snapshot()
	if events[1].Matched() || events[1].PreviousParcelID != "P1" || !events[1].Changed {
		t.Fatalf("event=%+v", events[1])
	}
}

func TestFix_DatasetNotReadyIsNoMatch(t *testing.T) {
	p := &fakeProvider{}
	sink := &recordingSink{}
	tr := New(p, nil, &parcel.Holder{}, nil, sink, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	p.sub(0).onFix(fixAt(0, 0))
	waitFor(t, "render", func() bool { ev, _ := sink.snapshot(); return len(ev) == 1 })
	events, notices := sink.snapshot()
	if events[0].Matched() || events[0].Kind != "none" {
		t.Fatalf("event=%+v", events[0])
	}
	if len(notices) != 0 {
		t.Fatalf("notices=%+v", notices)
	}
}

type blockingLocator struct {
	entered chan position.Fix
	release chan struct{}
	mu      sync.Mutex
	seen    []float64
}

func (l *blockingLocator) Locate(fix position.Fix, ds *parcel.Dataset) match.Result {
	l.mu.Lock()
	l.seen = append(l.seen, fix.LatDeg)
	first := len(l.seen) == 1
	l.mu.Unlock()
	if first {
		l.entered <- fix
		<-l.release
	}
	return match.Result{DistanceM: 1}
}

func TestFix_LatestWinsWhileBusy(t *testing.T) {
	p := &fakeProvider{}
	loc := &blockingLocator{entered: make(chan position.Fix, 1), release: make(chan struct{})}
	tr := New(p, loc, nil, nil, nil, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	sub := p.sub(0)
	sub.onFix(position.Fix{LatDeg: 1})
	select {
	case <-loc.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first fix never reached Locate")
	}
	sub.onFix(position.Fix{LatDeg: 2})
	sub.onFix(position.Fix{LatDeg: 3})
	sub.onFix(position.Fix{LatDeg: 4})
	close(loc.release)

	waitFor(t, "two processed fixes", func() bool { return tr.Stats().FixesProcessed == 2 })
	st := tr.Stats()
	if st.FixesReceived != 4 || st.FixesCoalesced != 2 {
		t.Fatalf("stats=%+v", st)
	}
	loc.mu.Lock()
	defer loc.mu.Unlock()
	if fmt.Sprint(loc.seen) != "[1 4]" {
		t.Fatalf("seen=%v want [1 4]", loc.seen)
	}
}

func TestError_PermissionDeniedStopsTracking(t *testing.T) {
	p := &fakeProvider{}
	sink := &recordingSink{}
	tr := New(p, nil, nil, nil, sink, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sub := p.sub(0)
	sub.onErr(&position.Error{Code: position.PermissionDenied, Message: "denied"})
	waitFor(t, "idle", func() bool { return tr.State() == Idle })
	waitFor(t, "cancel", func() bool { return sub.cancels.Load() == 1 })

	_, notices := sink.snapshot()
	if len(notices) != 1 || notices[0].Kind != display.NoticePermissionDenied {
		t.Fatalf("notices=%+v", notices)
	}

	// Late callbacks from the dead subscription are ignored.
	sub.onFix(fixAt(0, 0))
	sub.onErr(&position.Error{Code: position.Timeout})
	time.Sleep(20 * time.Millisecond)
	events, notices := sink.snapshot()
	if len(events) != 0 || len(notices) != 1 {
		t.Fatalf("events=%d notices=%d", len(events), len(notices))
	}

	tr.Stop()
	if n := sub.cancels.Load(); n != 1 {
		t.Fatalf("cancels=%d want 1", n)
	}
	if st := tr.Stats(); st.Errors != 1 || st.LastError == "" {
		t.Fatalf("stats=%+v", st)
	}
}

func TestError_TimeoutAndUnavailableKeepWatching(t *testing.T) {
	p := &fakeProvider{}
	sink := &recordingSink{}
	tr := New(p, nil, nil, nil, sink, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	sub := p.sub(0)
	sub.onErr(&position.Error{Code: position.Timeout})
	waitFor(t, "timeout notice", func() bool { _, n := sink.snapshot(); return len(n) == 1 })
	sub.onErr(&position.Error{Code: position.Unavailable})
	waitFor(t, "unavailable notice", func() bool { _, n := sink.snapshot(); return len(n) == 2 })

	_, notices := sink.snapshot()
	if notices[0].Kind != display.NoticeTimeout || notices[1].Kind != display.NoticeUnavailable {
		t.Fatalf("notices=%+v", notices)
	}
	if tr.State() != Watching || sub.cancels.Load() != 0 {
		t.Fatalf("state=%s cancels=%d", tr.State(), sub.cancels.Load())
	}

	// Tracking still works afterwards.
	sub.onFix(fixAt(0, 0))
	waitFor(t, "render", func() bool { ev, _ := sink.snapshot(); return len(ev) == 1 })
}

func TestStart_CapabilityUnavailable(t *testing.T) {
	for name, p := range map[string]position.Provider{
		"nil provider": nil,
		"no device":    &fakeProvider{err: fmt.Errorf("%w: no serial device", position.ErrCapabilityUnavailable)},
	} {
		t.Run(name, func(t *testing.T) {
			sink := &recordingSink{}
			tr := New(p, nil, nil, nil, sink, Options{})
			err := tr.Start()
			if !errors.Is(err, position.ErrCapabilityUnavailable) {
				t.Fatalf("err=%v", err)
			}
			if tr.State() != Idle {
				t.Fatalf("state=%s", tr.State())
			}
			_, notices := sink.snapshot()
			if len(notices) != 1 || notices[0].Kind != display.NoticeCapability {
				t.Fatalf("notices=%+v", notices)
			}
			tr.Stop()
			if _, notices := sink.snapshot(); len(notices) != 1 {
				t.Fatalf("Stop must not alert again: %+v", notices)
			}
		})
	}
}

func TestStop_IdempotentAndSilencesCallbacks(t *testing.T) {
	p := &fakeProvider{}
	loc := &countingLocator{}
	tr := New(p, loc, nil, nil, nil, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sub := p.sub(0)
	tr.Stop()
	tr.Stop()
	if n := sub.cancels.Load(); n != 1 {
		t.Fatalf("cancels=%d want 1", n)
	}
	if tr.State() != Idle {
		t.Fatalf("state=%s", tr.State())
	}

	sub.onFix(fixAt(0, 0))
	time.Sleep(20 * time.Millisecond)
	if n := loc.calls.Load(); n != 0 {
		t.Fatalf("locate calls after Stop=%d", n)
	}
	if st := tr.Stats(); st.FixesReceived != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestTracker_WithReplayProvider(t *testing.T) {
	a := parceltest.Offset(parceltest.Origin, 0, 0)
	b := parceltest.Offset(parceltest.Origin, 12, 0)
	replay := &position.Replay{
		Records: []fixlog.Record{
			{Start: true},
			{LatDeg: a[1], LonDeg: a[0], AccuracyM: 4},
			{At: time.Second, LatDeg: b[1], LonDeg: b[0], AccuracyM: 4},
		},
		Speed: 50,
	}
	sink := &recordingSink{}
	hl := highlight.NewState()
	tr := New(replay, nil, loadedHolder(t), hl, sink, Options{})
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	// The log ends with an Unavailable notice; tracking stays up.
	waitFor(t, "end of replay", func() bool { _, n := sink.snapshot(); return len(n) == 1 })
	waitFor(t, "P2 highlighted", func() bool { cur, _ := hl.Current(); return cur == "P2" })
	if st := tr.Stats(); st.FixesReceived != 2 {
		t.Fatalf("stats=%+v", st)
	}
	if tr.State() != Watching {
		t.Fatalf("state=%s", tr.State())
	}
}

package tracker

import (
	"sync"

	"plotwatch/internal/metrics"
	"plotwatch/internal/position"
)

// run is one generation of watching: the subscription, its mailbox and the
// consumer's lifetime. Callbacks from a run that has been shut down are
// dropped.
type run struct {
	t   *Tracker
	gen uint64

	mu      sync.Mutex
	sub     position.Subscription
	stopped bool
	fix     *position.Fix
	errs    []error

	// abortErr is the error that ended the run from inside the consumer.
	// It is readable once done is closed.
	abortErr error

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newRun(t *Tracker, gen uint64) *run {
	return &run{
		t:    t,
		gen:  gen,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (r *run) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *run) onFix(f position.Fix) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.fix != nil {
		r.t.coalesced.Add(1)
		metrics.FixesCoalescedTotal.Inc()
	}
	r.fix = &f
	r.mu.Unlock()

	r.t.received.Add(1)
	metrics.FixesReceivedTotal.Inc()
	r.notify()
}

func (r *run) onError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.notify()
}

// take empties the mailbox.
func (r *run) take() (*position.Fix, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, errs := r.fix, r.errs
	r.fix, r.errs = nil, nil
	return f, errs
}

func (r *run) quitting() bool {
	select {
	case <-r.quit:
		return true
	default:
		return false
	}
}

// setSub attaches the subscription. It returns false, after cancelling sub,
// when the run was shut down before Subscribe returned.
func (r *run) setSub(sub position.Subscription) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		return false
	}
	r.sub = sub
	r.mu.Unlock()
	return true
}

// shutdown drops further callbacks, cancels the subscription exactly once
// and tells the consumer to exit. It does not wait for the consumer.
func (r *run) shutdown() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		sub := r.sub
		r.fix, r.errs = nil, nil
		r.mu.Unlock()
		if sub != nil {
			sub.Cancel()
		}
		close(r.quit)
	})
}

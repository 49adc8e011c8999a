package position

import (
	"context"
	"io"
	"sync"
	"time"
)

// watch is the per-subscription plumbing shared by every source: it owns
// cancellation, the acquisition watchdog and the fix age filter.
//
// Source state lives inside the subscription, so a new watch never
// replays a fix seen by an earlier one.
type watch struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	opts Options
	now  func() time.Time

	onFix func(Fix)
	onErr func(error)

	// cbMu serializes callbacks against Cancel.
	cbMu   sync.Mutex
	closed bool

	closeMu sync.Mutex
	closer  io.Closer

	kick chan struct{}
	once sync.Once
}

func newWatch(onFix func(Fix), onErr func(error), opts Options, now func() time.Time) *watch {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &watch{
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
		now:    now,
		onFix:  onFix,
		onErr:  onErr,
		kick:   make(chan struct{}, 1),
	}
	if opts.AcquisitionTimeout > 0 {
		w.goRun(w.watchdog)
	}
	return w
}

func (w *watch) goRun(fn func(ctx context.Context)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn(w.ctx)
	}()
}

// setCloser swaps the resource Cancel must close to unblock a reader.
// A closer handed over after Cancel is closed immediately.
func (w *watch) setCloser(c io.Closer) {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.ctx.Err() != nil {
		_ = c.Close()
		return
	}
	w.closer = c
}

func (w *watch) deliver(f Fix) {
	now := w.now().UTC()
	if f.Time.IsZero() {
		f.Time = now
	}
	if w.opts.MaxFixAge > 0 && now.Sub(f.Time) > w.opts.MaxFixAge {
		return
	}

	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
	if w.onFix != nil {
		w.onFix(f)
	}
}

func (w *watch) fail(err error) {
	if err == nil {
		return
	}
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	if w.closed {
		return
	}
	if w.onErr != nil {
		w.onErr(err)
	}
}

func (w *watch) watchdog(ctx context.Context) {
	d := w.opts.AcquisitionTimeout
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(d)
		case <-t.C:
			w.fail(&Error{Code: Timeout, Message: "no fix within " + d.String()})
			t.Reset(d)
		}
	}
}

// Cancel stops the watch and waits for its goroutines.
func (w *watch) Cancel() {
	w.once.Do(func() {
		w.cbMu.Lock()
		w.closed = true
		w.cbMu.Unlock()

		w.cancel()
		w.closeMu.Lock()
		c := w.closer
		w.closer = nil
		w.closeMu.Unlock()
		if c != nil {
			_ = c.Close()
		}
		w.wg.Wait()
	})
}

// sleepCtx waits for d or until ctx ends. It reports whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

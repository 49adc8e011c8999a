package position

import (
	"context"
	"errors"
	"time"

	"plotwatch/internal/fixlog"
)

// Replay plays back a recorded fix log. Fix times are stamped at delivery.
type Replay struct {
	Records []fixlog.Record
	Speed   float64
	Loop    bool

	// Sleep overrides the inter-record wait (tests).
	Sleep fixlog.SleepFunc
	Now   func() time.Time
}

func (r *Replay) Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error) {
	if r == nil || len(r.Records) == 0 {
		return nil, ErrCapabilityUnavailable
	}
	speed := r.Speed
	if speed <= 0 {
		speed = 1
	}
	sleeper := r.Sleep
	if sleeper == nil {
		sleeper = sleepCtx
	}
	w := newWatch(onFix, onError, opts, r.Now)
	w.goRun(func(ctx context.Context) {
		err := fixlog.Play(ctx, r.Records, speed, r.Loop, sleeper, func(rec fixlog.Record) error {
			w.deliver(Fix{LatDeg: rec.LatDeg, LonDeg: rec.LonDeg, AccuracyM: rec.AccuracyM})
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			w.fail(&Error{Code: Unavailable, Message: "replay stopped", Err: err})
			return
		}
		if err == nil {
			w.fail(&Error{Code: Unavailable, Message: "replay finished"})
		}
	})
	return w, nil
}

// Recorder wraps a Provider and appends every fix it delivers to a log.
type Recorder struct {
	Source Provider
	Log    *fixlog.Writer
	Now    func() time.Time
	// OnWriteError is called when appending fails; nil ignores it.
	OnWriteError func(error)
}

func (r *Recorder) Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error) {
	if r == nil || r.Source == nil {
		return nil, ErrCapabilityUnavailable
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	return r.Source.Subscribe(func(f Fix) {
		if r.Log != nil {
			if err := r.Log.Write(now(), f.LatDeg, f.LonDeg, f.AccuracyM); err != nil && r.OnWriteError != nil {
				r.OnWriteError(err)
			}
		}
		if onFix != nil {
			onFix(f)
		}
	}, onError, opts)
}

package position

import (
	"context"
	"math"
	"time"

	"github.com/paulmach/orb"
)

// Sim emits fixes along a deterministic figure-eight around a center point.
// It is meant for walking a parcel map without hardware.
type Sim struct {
	CenterLatDeg float64
	CenterLonDeg float64
	// RadiusM is the east-west half-width of the path.
	RadiusM   float64
	Period    time.Duration
	Interval  time.Duration
	AccuracyM float64

	Now func() time.Time
}

func (s Sim) withDefaults() Sim {
	if s.RadiusM <= 0 {
		s.RadiusM = 30
	}
	if s.Period <= 0 {
		s.Period = 120 * time.Second
	}
	if s.Interval <= 0 {
		s.Interval = time.Second
	}
	if s.AccuracyM <= 0 {
		s.AccuracyM = 5
	}
	return s
}

// Position returns the simulated point at now.
func (s Sim) Position(now time.Time) (latDeg, lonDeg float64) {
	s = s.withDefaults()
	phase := float64(now.UnixNano()%s.Period.Nanoseconds()) / float64(s.Period.Nanoseconds())

	//	x = cos(2πt)
	//	y = 0.5*sin(4πt)
	w := 2 * math.Pi * phase
	x := math.Cos(w)
	y := 0.5 * math.Sin(2*w)

	radiusDeg := s.RadiusM / (orb.EarthRadius * math.Pi / 180)
	latDeg = s.CenterLatDeg + radiusDeg*y
	lonDeg = s.CenterLonDeg + (radiusDeg*x)/math.Cos(s.CenterLatDeg*math.Pi/180)
	return latDeg, lonDeg
}

func (s *Sim) Subscribe(onFix func(Fix), onError func(error), opts Options) (Subscription, error) {
	if s == nil {
		return nil, ErrCapabilityUnavailable
	}
	cfg := s.withDefaults()
	w := newWatch(onFix, onError, opts, cfg.Now)
	w.goRun(func(ctx context.Context) {
		t := time.NewTicker(cfg.Interval)
		defer t.Stop()
		for {
			now := w.now()
			lat, lon := cfg.Position(now)
			w.deliver(Fix{LatDeg: lat, LonDeg: lon, AccuracyM: cfg.AccuracyM, Time: now.UTC()})
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	})
	return w, nil
}

package display

import (
	"log/slog"
	"sync"

	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
	"plotwatch/internal/metrics"
)

type ledLine interface {
	SetValue(v int) error
	Close() error
}

var openLEDLineFn = openLEDLine

// LED drives a GPIO line high while any parcel is highlighted.
type LED struct {
	mu   sync.Mutex
	pin  int
	line ledLine
	on   bool
	log  *slog.Logger
}

func NewLED(pin int, lg *slog.Logger) (*LED, error) {
	line, err := openLEDLineFn(pin)
	if err != nil {
		return nil, err
	}
	return &LED{pin: pin, line: line, log: logger.Or(lg)}, nil
}

func (l *LED) set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil || l.on == on {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		metrics.SinkFailuresTotal.WithLabelValues("led").Inc()
		l.log.Warn("led set failed", "pin", l.pin, "err", err)
		return
	}
	l.on = on
}

func (l *LED) Render(ev highlight.Event) { l.set(ev.Matched()) }

// Alert leaves the LED alone; alerts have no visual on a single line.
func (l *LED) Alert(Notice) {}

func (l *LED) Close() error {
	l.set(false)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		return nil
	}
	err := l.line.Close()
	l.line = nil
	return err
}

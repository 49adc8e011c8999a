package display

import (
	"context"
	"log/slog"
	"math"

	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
)

// Log writes one structured line per event and alert. Unchanged highlights
// are logged at debug level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Render(ev highlight.Event) {
	lg := logger.Or(l.Logger)
	level := slog.LevelDebug
	if ev.Changed {
		level = slog.LevelInfo
	}
	if ev.Matched() {
		lg.Log(context.Background(), level, "parcel highlighted",
			"plot_no", ev.NewParcelID,
			"kind", ev.Kind,
			"accuracy_m", ev.AccuracyM,
			"distance_m", finiteOrNil(ev.DistanceM),
			"seq", ev.Seq,
		)
		return
	}
	lg.Log(context.Background(), level, "no parcel at position",
		"previous_plot_no", ev.PreviousParcelID,
		"accuracy_m", ev.AccuracyM,
		"distance_m", finiteOrNil(ev.DistanceM),
		"seq", ev.Seq,
	)
}

func (l Log) Alert(n Notice) {
	logger.Or(l.Logger).Warn("alert", "kind", string(n.Kind), "message", n.Message)
}

// finiteOrNil keeps +Inf out of JSON log output.
func finiteOrNil(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return v
}

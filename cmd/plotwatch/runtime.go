package main

import (
	"fmt"
	"log/slog"
	"strings"

	"plotwatch/internal/config"
	"plotwatch/internal/display"
	"plotwatch/internal/fixlog"
	"plotwatch/internal/match"
	"plotwatch/internal/parcel"
	"plotwatch/internal/position"
	"plotwatch/internal/tracker"
)

// buildProvider returns the configured position source, or nil for "none".
// When recording is enabled the returned writer must be closed by the caller.
func buildProvider(cfg config.GPSConfig, lg *slog.Logger) (position.Provider, *fixlog.Writer, error) {
	var p position.Provider
	switch cfg.Source {
	case "none":
		return nil, nil, nil
	case "nmea":
		p = &position.NMEA{Device: cfg.Device, Baud: cfg.Baud}
	case "gpsd":
		p = &position.GPSD{Addr: cfg.GPSDAddr}
	case "sim":
		p = &position.Sim{
			CenterLatDeg: cfg.Sim.CenterLatDeg,
			CenterLonDeg: cfg.Sim.CenterLonDeg,
			RadiusM:      cfg.Sim.RadiusM,
			Period:       cfg.Sim.Period,
			Interval:     cfg.Sim.Interval,
			AccuracyM:    cfg.Sim.AccuracyM,
		}
	case "replay":
		recs, err := fixlog.ReadFile(cfg.Replay.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("read replay log: %w", err)
		}
		return &position.Replay{Records: recs, Speed: cfg.Replay.Speed, Loop: cfg.Replay.Loop}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown gps source %q", cfg.Source)
	}

	path := strings.TrimSpace(cfg.Record.Path)
	if path == "" {
		return p, nil, nil
	}
	w, err := fixlog.CreateWriter(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open fix log: %w", err)
	}
	lg.Info("recording fixes", "path", path)
	rec := &position.Recorder{
		Source: p,
		Log:    w,
		OnWriteError: func(err error) {
			lg.Warn("fix log write failed", "err", err)
		},
	}
	return rec, w, nil
}

// buildSinks opens the configured display sinks. A sink that fails to open
// is logged and skipped.
func buildSinks(cfg config.DisplayConfig, lg *slog.Logger) []display.Sink {
	var sinks []display.Sink
	if cfg.Log != nil && *cfg.Log {
		sinks = append(sinks, display.Log{Logger: lg})
	}
	if dest := strings.TrimSpace(cfg.UDP.Dest); dest != "" {
		u, err := display.NewUDP(dest, lg)
		if err != nil {
			lg.Warn("udp sink disabled", "dest", dest, "err", err)
		} else {
			sinks = append(sinks, u)
		}
	}
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		sinks = append(sinks, display.NewRedis(addr, cfg.Redis.Password, cfg.Redis.Channel, lg))
	}
	if cfg.LED.Pin != nil {
		led, err := display.NewLED(*cfg.LED.Pin, lg)
		if err != nil {
			lg.Warn("led sink disabled", "pin", *cfg.LED.Pin, "err", err)
		} else {
			sinks = append(sinks, led)
		}
	}
	return sinks
}

func buildOptions(cfg config.DatasetConfig) parcel.BuildOptions {
	opts := parcel.BuildOptions{IDProperty: cfg.IDProperty}
	if cfg.BoundaryMarginM != nil {
		opts.BoundaryMarginM = *cfg.BoundaryMarginM
	}
	return opts
}

func engine(cfg config.MatchConfig) match.Engine {
	return match.Engine{FallbackThresholdM: cfg.FallbackThresholdM, StrictOnly: cfg.StrictOnly}
}

func trackerOptions(cfg config.GPSConfig) tracker.Options {
	return tracker.Options{
		HighAccuracy:       cfg.HighAccuracy == nil || *cfg.HighAccuracy,
		AcquisitionTimeout: cfg.AcquisitionTimeout,
	}
}

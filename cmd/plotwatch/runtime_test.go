package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"plotwatch/internal/config"
	"plotwatch/internal/display"
	"plotwatch/internal/position"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaults(t *testing.T, mutate func(*config.Config)) config.Config {
	t.Helper()
	cfg := config.Config{Dataset: config.DatasetConfig{Path: "./plots.geojson"}}
	if mutate != nil {
		mutate(&cfg)
	}
	if err := config.DefaultAndValidate(&cfg); err != nil {
		t.Fatalf("DefaultAndValidate() error: %v", err)
	}
	return cfg
}

func TestBuildProvider_Sources(t *testing.T) {
	lg := discardLogger()

	cfg := defaults(t, func(c *config.Config) { c.GPS.Source = "none" })
	p, w, err := buildProvider(cfg.GPS, lg)
	if err != nil || p != nil || w != nil {
		t.Fatalf("none: p=%v w=%v err=%v", p, w, err)
	}

	cfg = defaults(t, func(c *config.Config) { c.GPS.Source = "gpsd" })
	p, _, err = buildProvider(cfg.GPS, lg)
	if err != nil {
		t.Fatalf("gpsd: %v", err)
	}
	if g, ok := p.(*position.GPSD); !ok || g.Addr != "127.0.0.1:2947" {
		t.Fatalf("gpsd provider=%#v", p)
	}

	cfg = defaults(t, func(c *config.Config) {
		c.GPS.Source = "nmea"
		c.GPS.Device = "/dev/ttyACM0"
	})
	p, _, err = buildProvider(cfg.GPS, lg)
	if err != nil {
		t.Fatalf("nmea: %v", err)
	}
	if n, ok := p.(*position.NMEA); !ok || n.Device != "/dev/ttyACM0" || n.Baud != 9600 {
		t.Fatalf("nmea provider=%#v", p)
	}

	cfg = defaults(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.GPS.Sim.CenterLatDeg = 22.57
	})
	p, _, err = buildProvider(cfg.GPS, lg)
	if err != nil {
		t.Fatalf("sim: %v", err)
	}
	if s, ok := p.(*position.Sim); !ok || s.CenterLatDeg != 22.57 || s.Interval != time.Second {
		t.Fatalf("sim provider=%#v", p)
	}
}

func TestBuildProvider_Replay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.log")
	if err := os.WriteFile(path, []byte("START\n0,22.57,88.36,4\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	cfg := defaults(t, func(c *config.Config) {
		c.GPS.Source = "replay"
		c.GPS.Replay.Path = path
	})
	p, w, err := buildProvider(cfg.GPS, discardLogger())
	if err != nil || w != nil {
		t.Fatalf("replay: w=%v err=%v", w, err)
	}
	r, ok := p.(*position.Replay)
	if !ok || len(r.Records) != 2 || r.Speed != 1 {
		t.Fatalf("replay provider=%#v", p)
	}

	cfg.GPS.Replay.Path = filepath.Join(t.TempDir(), "missing.log")
	if _, _, err := buildProvider(cfg.GPS, discardLogger()); err == nil {
		t.Fatalf("expected error for missing replay log")
	}
}

func TestBuildProvider_RecordWrapsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.log")
	cfg := defaults(t, func(c *config.Config) {
		c.GPS.Source = "sim"
		c.GPS.Record.Path = path
	})
	p, w, err := buildProvider(cfg.GPS, discardLogger())
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	defer w.Close()
	rec, ok := p.(*position.Recorder)
	if !ok || rec.Log != w {
		t.Fatalf("provider=%#v", p)
	}
	if _, ok := rec.Source.(*position.Sim); !ok {
		t.Fatalf("recorder source=%#v", rec.Source)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("fix log not created: %v", err)
	}
}

func TestBuildProvider_UnknownSource(t *testing.T) {
	_, _, err := buildProvider(config.GPSConfig{Source: "glonass"}, discardLogger())
	if err == nil || errors.Is(err, position.ErrCapabilityUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := defaults(t, nil)
	sinks := buildSinks(cfg.Display, discardLogger())
	if len(sinks) != 1 {
		t.Fatalf("sinks=%d want 1", len(sinks))
	}
	if _, ok := sinks[0].(display.Log); !ok {
		t.Fatalf("sink=%T", sinks[0])
	}

	off := false
	cfg.Display.Log = &off
	cfg.Display.Redis.Addr = "127.0.0.1:6379"
	cfg.Display.Redis.Channel = "plots"
	sinks = buildSinks(cfg.Display, discardLogger())
	if len(sinks) != 1 {
		t.Fatalf("sinks=%d want 1", len(sinks))
	}
	r, ok := sinks[0].(*display.Redis)
	if !ok {
		t.Fatalf("sink=%T", sinks[0])
	}
	_ = r.Close()
}

func TestTrackerOptionsAndBuild(t *testing.T) {
	cfg := defaults(t, func(c *config.Config) {
		c.GPS.AcquisitionTimeout = 3 * time.Second
		c.Match.StrictOnly = true
	})
	opts := trackerOptions(cfg.GPS)
	if !opts.HighAccuracy || opts.AcquisitionTimeout != 3*time.Second {
		t.Fatalf("tracker options=%+v", opts)
	}
	if e := engine(cfg.Match); !e.StrictOnly || e.FallbackThresholdM != 50 {
		t.Fatalf("engine=%+v", e)
	}
	if b := buildOptions(cfg.Dataset); b.BoundaryMarginM != 50 || b.IDProperty != "plot_no" {
		t.Fatalf("build options=%+v", b)
	}
}

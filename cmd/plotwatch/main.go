package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"plotwatch/internal/config"
	"plotwatch/internal/logger"
	"plotwatch/internal/parcel"
	"plotwatch/internal/session"
	"plotwatch/internal/web"
)

func main() {
	var configPath string
	var summaryPath string
	flag.StringVar(&configPath, "config", "./plotwatch.yaml", "Path to YAML config")
	flag.StringVar(&summaryPath, "log-summary", "", "Print a summary of a fix log and exit")
	flag.Parse()

	if summaryPath != "" {
		if err := printLogSummary(os.Stdout, summaryPath); err != nil {
			fmt.Fprintf(os.Stderr, "log summary failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logs := web.NewLogBuffer(cfg.Web.LogLines)
	lg := logger.Setup(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Tee: logs})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logs, lg); err != nil {
		lg.Error("plotwatch stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer, lg *slog.Logger) error {
	provider, recorder, err := buildProvider(cfg.GPS, lg)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer closeQuietly(recorder, "fix log", lg)
	}

	events := web.NewEventStream()
	sinks := append(buildSinks(cfg.Display, lg), events)

	sess := session.New(session.Options{
		Build:    buildOptions(cfg.Dataset),
		Engine:   engine(cfg.Match),
		Provider: provider,
		Tracker:  trackerOptions(cfg.GPS),
		Sinks:    sinks,
		Logger:   lg,
	})
	defer closeQuietly(sess, "session", lg)

	lg.Info("plotwatch starting",
		"session", sess.ID(),
		"gps_source", cfg.GPS.Source,
		"dataset", datasetSource(cfg.Dataset).String(),
		"listen", cfg.Web.Listen,
	)

	// Tracking starts before the dataset is ready; fixes resolve to no match
	// until it is published.
	loaded := sess.LoadDataset(ctx, datasetSource(cfg.Dataset))
	if provider != nil {
		if err := sess.StartTracking(); err != nil {
			lg.Warn("tracking not started", "err", err)
		}
	}
	go func() {
		if err := <-loaded; err != nil {
			lg.Warn("continuing without parcels", "err", err)
		}
	}()

	err = web.Serve(ctx, cfg.Web.Listen, web.Handler(sess, events, logs))
	lg.Info("plotwatch stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func datasetSource(cfg config.DatasetConfig) parcel.Source {
	return parcel.Source{Path: cfg.Path, URL: cfg.URL}
}

func closeQuietly(c io.Closer, what string, lg *slog.Logger) {
	if err := c.Close(); err != nil {
		lg.Warn("close failed", "what", what, "err", err)
	}
}

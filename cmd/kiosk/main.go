package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gatescan/internal/camera"
	"gatescan/internal/classifier"
	"gatescan/internal/effects"
	"gatescan/internal/events"
	"gatescan/internal/platform/config"
	"gatescan/internal/platform/httpserver"
	"gatescan/internal/platform/logger"
	"gatescan/internal/scan"
	"gatescan/internal/scan/metrics"
	httptransport "gatescan/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires the kiosk together: camera source, effect dispatcher, event hub,
// scan controller, and the HTTP surface. Scan logic lives in internal/scan.
func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	level, _ := cfg.SlogLevel()
	log := logger.New(level)

	log.Info("initializing gatescan kiosk",
		"addr", cfg.Addr,
		"synthetic_camera", cfg.SyntheticCamera,
		"classifier_enabled", cfg.Classifier.Enabled,
	)

	hub := events.New(events.WithLogger(log))
	sink := events.NewSessionSink(hub)

	fx, err := effects.New(sink, effects.WithLogger(log))
	if err != nil {
		log.Error("effect dispatcher init failed", "error", err)
		os.Exit(1)
	}

	var feed *camera.Feed
	var frames scan.FrameSource
	if cfg.SyntheticCamera {
		synthetic, err := camera.NewSynthetic(640, 480)
		if err != nil {
			log.Error("synthetic camera init failed", "error", err)
			os.Exit(1)
		}
		frames = synthetic
	} else {
		feed = camera.NewFeed(camera.WithFeedLogger(log))
		frames = feed
	}

	opts := []scan.Option{
		scan.WithLogger(log),
		scan.WithMetrics(metrics.New()),
		scan.WithTimings(cfg.Timings),
		scan.WithRegionSpec(cfg.Region),
	}

	if cfg.Classifier.Enabled {
		vision, err := classifier.New(classifier.Config{
			Endpoint: cfg.Classifier.Endpoint,
			APIKey:   cfg.Classifier.APIKey,
			Model:    cfg.Classifier.Model,
			Timeout:  cfg.Classifier.Timeout,
		}, classifier.WithLogger(log))
		if err != nil {
			log.Error("classifier init failed", "error", err)
			os.Exit(1)
		}
		opts = append(opts, scan.WithClassifier(vision))
	}

	if cfg.ChoreographyFile != "" {
		choreo, err := scan.LoadChoreography(cfg.ChoreographyFile)
		if err != nil {
			log.Error("choreography file rejected", "error", err, "path", cfg.ChoreographyFile)
			os.Exit(1)
		}
		log.Info("choreography override loaded", "path", cfg.ChoreographyFile, "cues", len(choreo.Cues))
		opts = append(opts, scan.WithChoreography(choreo))
	}

	controller, err := scan.New(frames, sink, fx, opts...)
	if err != nil {
		log.Error("controller init failed", "error", err)
		os.Exit(1)
	}

	handler := httptransport.NewHandler(controller, hub, feed, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, cfg.OperatorKey, log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	group.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		controller.Reset()
		fx.Dispose()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("kiosk exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("kiosk stopped")
}

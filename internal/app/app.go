// Package app wires the audioprobe subsystems into a running service: the
// capture collector, the snapshot writer, the optional WAV host harness, and
// the HTTP control surface that stands in for the plugin UI.
//
// For testing, inject doubles via functional options (WithSink,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/musicadvisor/audioprobe/internal/capture"
	"github.com/musicadvisor/audioprobe/internal/config"
	"github.com/musicadvisor/audioprobe/internal/health"
	"github.com/musicadvisor/audioprobe/internal/observe"
	"github.com/musicadvisor/audioprobe/internal/snapshot"
	"github.com/musicadvisor/audioprobe/internal/source"
)

// closeTimeout bounds how long Shutdown waits for the capture worker to
// finish an in-flight snapshot write.
const closeTimeout = 2 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	collector *capture.Collector
	sink      capture.SnapshotSink
	met       *observe.Metrics
	src       *source.WAVSource

	sampleRate float64
	buildID    string
	hostName   string

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a snapshot sink instead of the filesystem writer.
func WithSink(s capture.SnapshotSink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics instance instead of the process-wide default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.met = m }
}

// WithBuildID stamps snapshot reports with the given build identifier.
func WithBuildID(id string) Option {
	return func(a *App) { a.buildID = id }
}

// WithHostName names the audio host in snapshot reports. Defaults to
// "audioprobe-host".
func WithHostName(name string) Option {
	return func(a *App) { a.hostName = name }
}

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		buildID:  "dev",
		hostName: "audioprobe-host",
	}
	for _, o := range opts {
		o(a)
	}

	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}
	if a.sink == nil {
		a.sink = snapshot.NewWriter(cfg.Output.Namespace)
	}

	// The built-in source, when configured, decides the session sample
	// rate; without it the collector waits for Prepare from the embedding
	// caller.
	a.sampleRate = 48000
	if cfg.Source.WAVPath != "" {
		src := source.NewWAV(cfg.Source.WAVPath,
			source.WithBlockSize(cfg.Source.BlockSize),
			source.WithRealtime(cfg.Source.Realtime),
			source.WithLoop(cfg.Source.Loop),
		)
		rate, err := src.SampleRate()
		if err != nil {
			return nil, fmt.Errorf("app: init source: %w", err)
		}
		a.src = src
		a.sampleRate = rate
	}

	a.collector = capture.New(capture.Config{
		QueueCapacity: cfg.Capture.QueueCapacity,
		SampleRate:    a.sampleRate,
		Sink:          a.sink,
		Metrics:       a.met,
	})
	a.collector.SetCaptureEnabled(cfg.Capture.CaptureEnabled())

	return a, nil
}

// Collector exposes the capture pipeline for embedding callers (tests, host
// integrations that push frames directly).
func (a *App) Collector() *capture.Collector { return a.collector }

// Run executes the service until ctx is cancelled or a subsystem fails. The
// HTTP control surface and the WAV source run concurrently; when the source
// finishes a non-looping file, Run keeps serving HTTP so snapshots of the
// completed capture can still be requested.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.src != nil {
		a.collector.Prepare(a.sampleRate, a.cfg.Source.BlockSize)
		g.Go(func() error {
			if err := a.src.Run(gctx, a.collector); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("app: source: %w", err)
			}
			slog.Info("source finished", "wav_path", a.cfg.Source.WAVPath)
			return nil
		})
	}

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("control surface listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// Shutdown stops the capture worker, letting an in-flight snapshot write
// complete within a bounded wait. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()
		err = a.collector.Close(closeCtx)
	})
	return err
}

// Routes builds the HTTP control surface:
//
//	POST /v1/snapshot  submit a snapshot request (coalesced)
//	GET  /v1/status    capture status for pollers
//	GET  /healthz      liveness
//	GET  /readyz       readiness (output root writable)
//	GET  /metrics      Prometheus scrape endpoint
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/snapshot", a.handleSnapshot)
	mux.HandleFunc("GET /v1/status", a.handleStatus)

	h := health.New(
		health.DataRootWritable(func() string {
			return snapshot.ResolveDataRoot(a.cfg.Output.DataRoot)
		}),
	)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.met)(mux)
}

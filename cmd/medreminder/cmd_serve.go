package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	httpapi "github.com/medcia/medreminder/internal/http"
	"github.com/medcia/medreminder/internal/scheduler"
)

// shutdownGrace is added to RUN_TIMEOUT when waiting for an in-flight sweep.
const shutdownGrace = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Sweep on DISPATCH_SCHEDULE and serve the ops HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, opts.stdout, opts.stderr)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(context.Background()); cerr != nil {
					a.logger.Warn().Err(cerr).Msg("shutdown")
				}
			}()
			return serve(ctx, a, nil)
		},
	}
}

// newServer builds the ops HTTP server for a.
func newServer(a *app) (*http.Server, error) {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	err := httpapi.RegisterRoutes(r, httpapi.Deps{
		Dispatcher: a.dispatcher,
		DB:         a.db,
		Registry:   reg,
		Gatherers:  []prometheus.Gatherer{a.metrics.Gatherer()},
	}, a.cfg)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadTimeout:       a.cfg.ReadTimeout,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}, nil
}

// serve runs the scheduler and the HTTP server until ctx ends, then drains
// both. ln overrides the listen address; tests pass one bound to port 0.
func serve(ctx context.Context, a *app, ln net.Listener) error {
	srv, err := newServer(a)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(a.cfg.Dispatch.Schedule, a.dispatcher, a.cfg.Dispatch.RunTimeout,
		a.logger.With().Str("component", "scheduler").Logger())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	sched.Start()
	a.logger.Info().Str("addr", srv.Addr).Str("schedule", a.cfg.Dispatch.Schedule).Msg("medreminder serving")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Dispatch.RunTimeout+shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("scheduler stop")
	}
	a.logger.Info().Msg("medreminder stopped")
	return serveErr
}

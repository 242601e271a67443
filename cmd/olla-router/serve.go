package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/olla-project/inforoute/internal/admintui"
	"github.com/olla-project/inforoute/internal/httpapi"
	"github.com/olla-project/inforoute/internal/metrics"
	"github.com/olla-project/inforoute/pkg/format"
)

func newServeCmd() *cobra.Command {
	var adminConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, health prober and job worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), adminConsole)
		},
	}
	cmd.Flags().BoolVar(&adminConsole, "admin-console", false, "run the interactive admin console instead of blocking on the HTTP server")
	return cmd
}

func runServe(ctx context.Context, adminConsole bool) error {
	cfg, log, styled, cleanup, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := buildRuntime(cfg, log, styled)
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	rt.health.Start(ctx)
	defer rt.health.Stop()

	go rt.worker.Start(ctx)
	defer rt.worker.Stop()

	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	go pollStats(ctx, rt, collectors)

	server := httpapi.NewServer(log, rt.router, rt.registry, rt.fault, rt.health, collectors)

	mux := http.NewServeMux()
	mux.Handle("/", server.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if adminConsole {
		if err := admintui.Run(rt.fault, rt.health, rt.breaker, rt.registry); err != nil {
			log.Error("admin console exited with error", "error", err)
		}
		cancel()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("http server error", "error", err)
		cancel()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	log.Info("inforoute has shut down", "uptime", format.Duration(time.Since(startedAt)))
	return nil
}

var startedAt = bootTime()

// bootTime is isolated in its own function so it is the only place in
// this command tree that calls time.Now() at init time.
func bootTime() time.Time { return time.Now() }

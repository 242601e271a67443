// Command olla-router is the cobra CLI wrapping the router core:
// `serve` runs the HTTP API (and, optionally, the admin console),
// `route` issues one request and prints the response, `models` lists
// the sealed registry. Exit codes follow spec.md §6: 0 success, 1
// general error, 2 no engine available, 3 kill switch enabled.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/olla-project/inforoute/internal/config"
	"github.com/olla-project/inforoute/internal/core/domain"
	"github.com/olla-project/inforoute/internal/logger"
	"github.com/olla-project/inforoute/internal/version"
)

const (
	exitSuccess         = 0
	exitGeneralError    = 1
	exitNoEngine        = 2
	exitKillSwitch      = 3
)

func main() {
	root := &cobra.Command{
		Use:           version.Name,
		Short:         version.Description,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newRouteCmd(), newModelsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(exitForError(err))
	}
}

// exitForError maps a command failure to the process exit code
// spec.md §6 names for a CLI-embedded harness.
func exitForError(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, domain.ErrKillSwitchEnabled):
		return exitKillSwitch
	case errors.Is(err, domain.ErrNoEngineAvailable), errors.Is(err, domain.ErrAllEnginesFailed):
		return exitNoEngine
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitGeneralError
	}
}

// buildLoggerConfig maps the router config's logging section onto
// internal/logger.Config, matching the teacher's env-driven defaults
// but sourced from the already-loaded config.Config instead of raw
// env lookups.
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     "./logs",
		Theme:      "default",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		FileOutput: cfg.Logging.Output == "file",
		PrettyLogs: cfg.Logging.Format != "json",
	}
}

// loadConfigAndLogger is shared setup for every subcommand: load
// config, then stand up the styled logger against it. The styled
// logger is also handed to buildRuntime, which wires it into the
// health monitor and router for status/failure lines.
func loadConfigAndLogger() (*config.Config, *slog.Logger, *logger.StyledLogger, func(), error) {
	cfg, err := config.Load(nil)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig(cfg))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("initialising logger: %w", err)
	}
	slog.SetDefault(logInstance)
	styledLogger.Info("inforoute starting", "version", version.Version, "pid", os.Getpid())

	return cfg, logInstance, styledLogger, cleanup, nil
}

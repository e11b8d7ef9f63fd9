// Command queued runs the central queue server: the authoritative task
// registry that the web front-end submits to and workers poll.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/simq/internal/config"
	"github.com/me/simq/internal/history"
	"github.com/me/simq/internal/logging"
	"github.com/me/simq/internal/queue"
	"github.com/me/simq/internal/registry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		flagConfig      string
		flagLogLevel    string
		flagLogFormat   string
		flagLogFilename string
	)

	cmd := &cobra.Command{
		Use:          "queued",
		Short:        "simq queue server",
		Long:         "queued holds the task queue that the web front-end feeds and workers drain.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flagConfig, flagLogLevel, flagLogFormat, flagLogFilename)
		},
	}

	cmd.Flags().StringVar(&flagConfig, "config", "", "Path to the shared config file")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	cmd.Flags().StringVar(&flagLogFilename, "log-filename", "-", "Log destination file, - for stderr")
	cmd.MarkFlagRequired("config")

	return cmd
}

func run(configPath, logLevel, logFormat, logFilename string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logOut, closeLog, err := logging.Open(logFilename)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := logging.NewLoggerWithWriter(logging.ParseLevel(logLevel), logFormat, logOut)

	reg, err := registry.New(cfg.Registry.Dir, logger)
	if err != nil {
		return err
	}
	logger.Info("model registry loaded", "models", len(reg.Names()))

	opts := queue.Options{
		ConfirmTimeout:    cfg.Queue.ConfirmTimeout.Std(),
		HeartbeatTimeout:  cfg.Queue.HeartbeatTimeout.Std(),
		WorkerWindow:      cfg.WorkerWindow(),
		TerminalRetention: cfg.Queue.TerminalRetention.Std(),
	}

	var histSource queue.HistorySource
	if cfg.Queue.HistoryPath != "" {
		hist, err := history.Open(cfg.Queue.HistoryPath, logger)
		if err != nil {
			return err
		}
		defer hist.Close()
		opts.History = hist
		histSource = hist
		logger.Info("task history enabled", "path", cfg.Queue.HistoryPath)
	}

	q := queue.New(reg, opts, logger)
	srv := queue.NewServer(q, histSource, cfg.RequestSecret, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.QueueServerPort),
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := queue.NewSweeper(q, cfg.SweepInterval(), logger)
	go sweeper.Start(ctx)
	go func() {
		if err := reg.Watch(ctx, cfg.Registry.RescanInterval.Std()); err != nil && ctx.Err() == nil {
			logger.Error("model registry watch stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("queue server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("queue server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("queue server stopped")
	return nil
}

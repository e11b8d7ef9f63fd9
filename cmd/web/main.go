// Command web serves the submitter-facing site: model listings,
// parameter forms, and the confirmation landing page.
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
	"github.com/me/simq/internal/logging"
	"github.com/me/simq/internal/mailer"
	"github.com/me/simq/internal/registry"
	"github.com/me/simq/internal/web"
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
		flagClientPort  int
		flagLogLevel    string
		flagLogFormat   string
		flagLogFilename string
	)

	cmd := &cobra.Command{
		Use:          "web",
		Short:        "simq web front-end",
		Long:         "web serves the model forms and forwards submissions to the queue server.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flagConfig, flagClientPort, flagLogLevel, flagLogFormat, flagLogFilename)
		},
	}

	cmd.Flags().StringVar(&flagConfig, "config", "", "Path to the shared config file")
	cmd.Flags().IntVar(&flagClientPort, "client-port", 8000, "Port to serve the site on")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	cmd.Flags().StringVar(&flagLogFilename, "log-filename", "-", "Log destination file, - for stderr")
	cmd.MarkFlagRequired("config")

	return cmd
}

func run(configPath string, clientPort int, logLevel, logFormat, logFilename string) error {
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

	m, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		return err
	}

	client := web.NewQueueClient(cfg.QueueURL(), cfg.Web.KeepAliveTimeout.Std())
	srv := web.NewServer(reg, client, m, cfg.Web.BaseURL, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", clientPort),
		Handler: srv,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := reg.Watch(ctx, cfg.Registry.RescanInterval.Std()); err != nil && ctx.Err() == nil {
			logger.Error("model registry watch stopped", "error", err)
		}
	}()

	go func() {
		logger.Info("web front-end starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("web front-end failed", "error", err)
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
	logger.Info("web front-end stopped")
	return nil
}

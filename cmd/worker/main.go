// Command worker runs a compute node: it polls the queue server for
// confirmed tasks, executes the model binaries it has installed, and
// emails the results to the submitter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/simq/internal/config"
	"github.com/me/simq/internal/logging"
	"github.com/me/simq/internal/mailer"
	"github.com/me/simq/internal/registry"
	"github.com/me/simq/internal/worker"
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
		Use:          "worker",
		Short:        "simq compute worker",
		Long:         "worker polls the queue server and executes model runs on this machine.",
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

	m, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		return err
	}

	w := worker.New(worker.Config{
		QueueURL:          cfg.QueueURL(),
		Secret:            cfg.RequestSecret,
		WorkDir:           cfg.Worker.WorkDir,
		PollInterval:      cfg.Worker.PollInterval.Std(),
		ErrorSleepTime:    cfg.Worker.ErrorSleepTime.Std(),
		KeepAliveInterval: cfg.Worker.KeepAliveInterval.Std(),
		MaxErrors:         cfg.Worker.MaxErrors,
	}, reg, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := reg.Watch(ctx, cfg.Registry.RescanInterval.Std()); err != nil && ctx.Err() == nil {
			logger.Error("model registry watch stopped", "error", err)
		}
	}()

	return w.Run(ctx)
}

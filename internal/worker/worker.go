// Package worker implements the polling daemon that pulls tasks from
// the queue, runs the model binaries, and emails the results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/me/simq/internal/mailer"
	"github.com/me/simq/internal/queue"
	"github.com/me/simq/internal/registry"
	"github.com/me/simq/internal/report"
	"github.com/me/simq/internal/runner"
	"github.com/me/simq/pkg/task"
)

// Config holds worker configuration.
type Config struct {
	QueueURL          string
	Secret            string
	WorkDir           string
	PollInterval      time.Duration
	ErrorSleepTime    time.Duration
	KeepAliveInterval time.Duration
	MaxErrors         int
}

// Worker is the main work loop: poll, execute, report, acknowledge.
type Worker struct {
	client   *Client
	registry *registry.Registry
	runner   *runner.Runner
	mailer   mailer.Mailer
	cfg      Config
	logger   *slog.Logger
}

// New creates a Worker from configuration.
func New(cfg Config, reg *registry.Registry, m mailer.Mailer, logger *slog.Logger) *Worker {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "simq-worker")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ErrorSleepTime == 0 {
		cfg.ErrorSleepTime = 10 * time.Second
	}
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = 3
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}
	return &Worker{
		client:   NewClient(cfg.QueueURL, cfg.Secret),
		registry: reg,
		runner:   runner.New(logger),
		mailer:   m,
		cfg:      cfg,
		logger:   logger.With("component", "worker"),
	}
}

// Run polls the queue until the context is cancelled. Transient queue
// errors are absorbed by sleeping; the worker never exits over
// transport failures, it only escalates the log level once MaxErrors
// consecutive polls have failed.
func (w *Worker) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create workdir %s: %w", w.cfg.WorkDir, err)
	}

	if err := w.client.Info(ctx); err != nil {
		return fmt.Errorf("queue server unreachable: %w", err)
	}
	w.logger.Info("connected to queue server",
		"url", w.cfg.QueueURL, "models", len(w.registry.Names()))

	consecutiveErrors := 0
	for {
		if err := sleepCtx(ctx, w.cfg.PollInterval); err != nil {
			w.logger.Info("shutting down")
			return nil
		}

		t, status, err := w.client.PollTask(ctx, w.registry.Versions())
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= w.cfg.MaxErrors {
				w.logger.Error("queue still unreachable", "error", err, "consecutive", consecutiveErrors)
			} else {
				w.logger.Warn("poll failed", "error", err, "consecutive", consecutiveErrors)
			}
			if err := sleepCtx(ctx, w.cfg.ErrorSleepTime); err != nil {
				return nil
			}
			continue
		}
		consecutiveErrors = 0

		if t == nil {
			if status == queue.PollNoVersion {
				w.logger.Debug("queued work exists for versions this worker lacks")
			}
			continue
		}

		w.process(ctx, t)
	}
}

// process runs one task end to end. The heartbeat goroutine keeps the
// queue's claim alive for the duration; the ownership probe before
// mailing guarantees a reclaimed task never notifies the user twice.
func (w *Worker) process(ctx context.Context, t *task.Task) {
	w.logger.Info("task received", "task_id", t.ID, "model", t.Ref(), "email", t.EmailAddress)

	spec, ok := w.registry.Get(t.ModelName, t.ModelVersion)
	if !ok {
		// The registry changed between poll and dispatch.
		w.logger.Error("dispatched task names an unknown model", "task_id", t.ID, "model", t.Ref())
		w.fail(ctx, t, &task.ModelSpec{Name: t.ModelName, Version: t.ModelVersion},
			"model is no longer available")
		return
	}

	hb := newHeartbeat(w.client, t.ID, w.cfg.KeepAliveInterval, w.logger)
	go hb.run(ctx)
	defer hb.stop()

	workDir := filepath.Join(w.cfg.WorkDir, t.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		w.logger.Error("cannot create task workdir", "task_id", t.ID, "error", err)
		w.fail(ctx, t, spec, "internal worker error")
		return
	}
	defer os.RemoveAll(workDir)

	res, err := w.runner.Run(ctx, spec, t, workDir)
	if err != nil {
		var execErr *runner.ExecutionError
		if errors.As(err, &execErr) {
			w.logger.Warn("model run failed", "task_id", t.ID, "error", err)
			w.fail(ctx, t, spec, execErr.Error())
		} else {
			w.logger.Error("execution infrastructure error", "task_id", t.ID, "error", err)
			w.fail(ctx, t, spec, "internal worker error")
		}
		return
	}

	// Only the current owner may notify the submitter.
	owns, err := w.client.HasTask(ctx, t.ID)
	if err != nil || !owns {
		w.logger.Warn("task ownership lost before mailing, abandoning",
			"task_id", t.ID, "error", err)
		return
	}

	msg, err := report.Success(spec, t, res, workDir)
	if err != nil {
		w.logger.Error("cannot assemble results email", "task_id", t.ID, "error", err)
		w.fail(ctx, t, spec, "internal worker error")
		return
	}
	// The run itself completed; a delivery problem is logged but does
	// not turn the task into a failure.
	if err := w.mailer.Send(ctx, msg); err != nil {
		w.logger.Error("results email failed", "task_id", t.ID, "error", err)
	}

	if err := w.client.Succeed(ctx, t.ID); err != nil {
		w.logger.Error("success ack failed", "task_id", t.ID, "error", err)
		return
	}
	w.logger.Info("task completed", "task_id", t.ID, "model", t.Ref())
}

// fail notifies the submitter and acknowledges the failure, skipping
// the email when the queue already reassigned the task.
func (w *Worker) fail(ctx context.Context, t *task.Task, spec *task.ModelSpec, reason string) {
	owns, err := w.client.HasTask(ctx, t.ID)
	if err == nil && owns {
		if err := w.mailer.Send(ctx, report.Failure(spec, t, reason)); err != nil {
			w.logger.Error("failure email failed", "task_id", t.ID, "error", err)
		}
	}
	if err := w.client.Fail(ctx, t.ID); err != nil {
		w.logger.Error("failure ack failed", "task_id", t.ID, "error", err)
	}
}

// sleepCtx sleeps for d, returning early with ctx.Err when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

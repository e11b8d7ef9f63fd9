package queue

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drives Queue.Sweep on a fixed cadence.
type Sweeper struct {
	queue    *Queue
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper creates a sweeper for the queue.
func NewSweeper(q *Queue, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		queue:    q,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins sweeping. Blocks until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping (context cancelled)")
			close(s.doneCh)
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("sweeper stopping (stop called)")
			close(s.doneCh)
			return nil
		case <-ticker.C:
			s.queue.Sweep()
		}
	}
}

// Stop shuts down the sweeper and waits for the current sweep to finish.
func (s *Sweeper) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

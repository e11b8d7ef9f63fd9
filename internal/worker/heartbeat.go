package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// heartbeat refreshes the queue's claim on one task while the model
// runs. One instance per task; stop is safe to call more than once.
type heartbeat struct {
	client   *Client
	taskID   string
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newHeartbeat(client *Client, taskID string, interval time.Duration, logger *slog.Logger) *heartbeat {
	return &heartbeat{
		client:   client,
		taskID:   taskID,
		interval: interval,
		logger:   logger.With("component", "heartbeat", "task_id", taskID),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// run sends keep-alives until stopped or the context ends.
func (h *heartbeat) run(ctx context.Context) {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			alive, err := h.client.KeepAlive(ctx, h.taskID)
			if err != nil {
				h.logger.Warn("keep-alive failed", "error", err)
				continue
			}
			if !alive {
				h.logger.Warn("queue no longer holds this task")
				return
			}
		}
	}
}

// stop halts the loop and waits for it to exit.
func (h *heartbeat) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.doneCh
}

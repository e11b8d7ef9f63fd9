package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/me/simq/pkg/task"
)

// PollStatus is the outcome of a worker poll that returned no task.
type PollStatus string

const (
	PollTask      PollStatus = "task"
	PollEmpty     PollStatus = "empty_queue"
	PollNoVersion PollStatus = "no_version"
)

// ConfirmResult is the outcome of redeeming a confirmation code.
type ConfirmResult string

const (
	ConfirmOkay     ConfirmResult = "okay"
	ConfirmExpired  ConfirmResult = "expired"
	ConfirmNotFound ConfirmResult = "notfound"
)

// UnknownModelError reports a submission naming a model or version the
// registry does not know.
type UnknownModelError struct {
	Name    string
	Version string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model %s version %s", e.Name, e.Version)
}

// SpecSource resolves model specs for submission validation.
type SpecSource interface {
	Get(name, version string) (*task.ModelSpec, bool)
}

// HistoryRecorder receives every terminal task outcome. May be nil.
type HistoryRecorder interface {
	RecordTerminal(t *task.Task, state task.State, detail string, at time.Time)
}

// Options configures a Queue.
type Options struct {
	ConfirmTimeout    time.Duration
	HeartbeatTimeout  time.Duration
	WorkerWindow      time.Duration
	TerminalRetention time.Duration

	History HistoryRecorder  // optional
	Now     func() time.Time // test hook; defaults to time.Now
}

// flight is the in-flight bookkeeping for one dispatched task.
type flight struct {
	task          *task.Task
	assignedAt    time.Time
	lastHeartbeat time.Time
}

// terminalRecord retains a finished task id briefly so late worker
// acknowledgements stay idempotent.
type terminalRecord struct {
	state task.State
	at    time.Time
}

// Queue is the authoritative task registry. All four collections are
// guarded by one mutex; every operation is a single critical section,
// so no partial update is ever observable.
type Queue struct {
	specs   SpecSource
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu           sync.Mutex
	unconfirmed  map[string]*task.Task // by confirmation code
	runnable     []*task.Task          // FIFO; head at index 0
	inFlight     map[string]*flight    // by task id
	terminal     map[string]terminalRecord
	expiredCodes map[string]time.Time // confirmation codes of expired tasks
	lastPollAt   time.Time            // most recent worker poll
}

// New creates an empty queue.
func New(specs SpecSource, opts Options, logger *slog.Logger) *Queue {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.TerminalRetention == 0 {
		opts.TerminalRetention = 5 * time.Minute
	}
	return &Queue{
		specs:        specs,
		opts:         opts,
		logger:       logger.With("component", "queue"),
		metrics:      NewMetrics(),
		now:          now,
		unconfirmed:  map[string]*task.Task{},
		inFlight:     map[string]*flight{},
		terminal:     map[string]terminalRecord{},
		expiredCodes: map[string]time.Time{},
	}
}

// Metrics returns the queue's collectors, for mounting /metrics.
func (q *Queue) Metrics() *Metrics { return q.metrics }

// Submit validates a task against its model spec, assigns it an id and
// a confirmation code, and stores it unconfirmed.
func (q *Queue) Submit(t *task.Task) (code string, err error) {
	spec, ok := q.specs.Get(t.ModelName, t.ModelVersion)
	if !ok {
		return "", &UnknownModelError{Name: t.ModelName, Version: t.ModelVersion}
	}
	if err := t.Validate(spec); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	t.ID = uuid.New().String()
	t.ConfirmationCode = newConfirmationCode()
	t.State = task.StateUnconfirmed
	t.CreatedAt = now

	q.unconfirmed[t.ConfirmationCode] = t
	q.metrics.submitted.Inc()
	q.updateDepths()

	q.logger.Info("task submitted", "task_id", t.ID, "model", t.Ref(), "email", t.EmailAddress)
	return t.ConfirmationCode, nil
}

// Confirm redeems a confirmation code, releasing the task into the
// runnable pool in FIFO arrival order. A code is single-use.
func (q *Queue) Confirm(code string) ConfirmResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.unconfirmed[code]
	if !ok {
		if _, expired := q.expiredCodes[code]; expired {
			return ConfirmExpired
		}
		return ConfirmNotFound
	}

	delete(q.unconfirmed, code)
	t.State = task.StateRunnable
	t.ConfirmedAt = q.now()
	q.runnable = append(q.runnable, t)
	q.metrics.confirmed.Inc()
	q.updateDepths()

	q.logger.Info("task confirmed", "task_id", t.ID, "model", t.Ref())
	return ConfirmOkay
}

// HasWorkers reports whether any worker polled within the liveness
// window.
func (q *Queue) HasWorkers() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastPollAt.IsZero() {
		return false
	}
	return q.now().Sub(q.lastPollAt) <= q.opts.WorkerWindow
}

// Poll hands the first runnable task whose (model, version) appears in
// the worker's supported set to the caller, marking it in-flight. The
// distinction between an empty queue and a version mismatch is
// preserved for worker logging.
func (q *Queue) Poll(supported map[string][]string) (*task.Task, PollStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.lastPollAt = now

	if len(q.runnable) == 0 {
		return nil, PollEmpty
	}

	for i, t := range q.runnable {
		if !versionSupported(supported, t.ModelName, t.ModelVersion) {
			continue
		}
		q.runnable = append(q.runnable[:i], q.runnable[i+1:]...)
		t.State = task.StateInFlight
		t.LastHeartbeatAt = now
		q.inFlight[t.ID] = &flight{task: t, assignedAt: now, lastHeartbeat: now}
		q.metrics.dispatched.Inc()
		q.updateDepths()

		q.logger.Info("task dispatched", "task_id", t.ID, "model", t.Ref())
		return t, PollTask
	}

	return nil, PollNoVersion
}

// Heartbeat refreshes the liveness timestamp for an in-flight task.
// Returns false when the task is no longer held (expired, reclaimed or
// completed), which tells the worker it has lost ownership.
func (q *Queue) Heartbeat(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.inFlight[taskID]
	if !ok {
		return false
	}
	f.lastHeartbeat = q.now()
	f.task.LastHeartbeatAt = f.lastHeartbeat
	return true
}

// HasTask reports whether the task is still in-flight. Workers call
// this before emailing results so a reclaimed task never produces a
// duplicate notification.
func (q *Queue) HasTask(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[taskID]
	return ok
}

// Succeed acknowledges a completed task. Already-terminal or unknown
// ids are silent no-ops so duplicate and late acknowledgements stay
// harmless.
func (q *Queue) Succeed(taskID string) {
	q.finish(taskID, task.StateDone, "")
}

// Fail acknowledges a failed task. Failures are terminal: they
// indicate deterministic model errors, so the task is not requeued.
func (q *Queue) Fail(taskID string) {
	q.finish(taskID, task.StateFailed, "reported by worker")
}

func (q *Queue) finish(taskID string, state task.State, detail string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.inFlight[taskID]
	if !ok {
		// Late ack from a worker that lost the task, or a duplicate.
		q.logger.Debug("ignoring ack for task not in flight", "task_id", taskID, "state", state)
		return
	}

	now := q.now()
	delete(q.inFlight, taskID)
	f.task.State = state
	q.terminal[taskID] = terminalRecord{state: state, at: now}
	if state == task.StateDone {
		q.metrics.succeeded.Inc()
	} else {
		q.metrics.failed.Inc()
	}
	q.updateDepths()

	if q.opts.History != nil {
		q.opts.History.RecordTerminal(f.task, state, detail, now)
	}
	q.logger.Info("task finished", "task_id", taskID, "state", state)
}

// Sweep expires stale unconfirmed tasks, reclaims in-flight tasks with
// missed heartbeats, and prunes old terminal records. Reclaimed tasks
// re-enter the runnable queue at the head: a reclaim is not a new
// submission.
func (q *Queue) Sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	for code, t := range q.unconfirmed {
		if now.Sub(t.CreatedAt) <= q.opts.ConfirmTimeout {
			continue
		}
		delete(q.unconfirmed, code)
		q.expiredCodes[code] = now
		t.State = task.StateExpired
		q.metrics.expired.Inc()
		if q.opts.History != nil {
			q.opts.History.RecordTerminal(t, task.StateExpired, "confirmation timeout", now)
		}
		q.logger.Info("task expired unconfirmed", "task_id", t.ID, "model", t.Ref())
	}

	for id, f := range q.inFlight {
		if now.Sub(f.lastHeartbeat) <= q.opts.HeartbeatTimeout {
			continue
		}
		delete(q.inFlight, id)
		f.task.State = task.StateRunnable
		q.runnable = append([]*task.Task{f.task}, q.runnable...)
		q.metrics.reclaimed.Inc()
		q.logger.Warn("task reclaimed after missed heartbeats",
			"task_id", id, "model", f.task.Ref(), "last_heartbeat", f.lastHeartbeat)
	}

	for id, rec := range q.terminal {
		if now.Sub(rec.at) > q.opts.TerminalRetention {
			delete(q.terminal, id)
		}
	}
	for code, at := range q.expiredCodes {
		if now.Sub(at) > q.opts.TerminalRetention {
			delete(q.expiredCodes, code)
		}
	}

	q.updateDepths()
}

// Depths returns the sizes of the three active collections.
func (q *Queue) Depths() (unconfirmed, runnable, inFlight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.unconfirmed), len(q.runnable), len(q.inFlight)
}

// updateDepths refreshes the gauges; callers hold q.mu.
func (q *Queue) updateDepths() {
	q.metrics.setDepths(len(q.unconfirmed), len(q.runnable), len(q.inFlight))
}

func versionSupported(supported map[string][]string, name, version string) bool {
	for _, v := range supported[name] {
		if v == version {
			return true
		}
	}
	return false
}

// newConfirmationCode issues a short single-use token.
func newConfirmationCode() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:8])
}

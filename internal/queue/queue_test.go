package queue

import (
	"bytes"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/simq/pkg/task"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type specMap map[string]*task.ModelSpec

func (m specMap) Get(name, version string) (*task.ModelSpec, bool) {
	spec, ok := m[name+"/"+version]
	return spec, ok
}

func fp(v float64) *float64 { return &v }

func testSpecs() specMap {
	abmb := func(version string) *task.ModelSpec {
		return &task.ModelSpec{
			Name:    "abmb_c",
			Version: version,
			Parameters: []task.ParameterSpec{
				{Name: "nSamples", Kind: task.KindInteger,
					RangeStart: fp(1000), RangeEnd: fp(100000), Default: fp(10000)},
				{Name: "wavelengths", Kind: task.KindRange,
					RangeStart: fp(400), RangeEnd: fp(2500), Units: "nm"},
			},
			Executable: "/opt/models/abmb",
		}
	}
	return specMap{
		"abmb_c/1": abmb("1"),
		"abmb_c/2": abmb("2"),
	}
}

func validParams() map[string]task.Value {
	return map[string]task.Value{
		"nSamples":    task.IntValue(10000),
		"wavelengths": task.RangeValue(400, 2500),
	}
}

const (
	confirmTimeout   = 1 * time.Hour
	heartbeatTimeout = 2 * time.Minute
	workerWindow     = 20 * time.Second
)

func testQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	q := New(testSpecs(), Options{
		ConfirmTimeout:    confirmTimeout,
		HeartbeatTimeout:  heartbeatTimeout,
		WorkerWindow:      workerWindow,
		TerminalRetention: 5 * time.Minute,
		Now:               c.now,
	}, logger)
	return q, c
}

func submit(t *testing.T, q *Queue, version string) (*task.Task, string) {
	t.Helper()
	tk := task.New("abmb_c", version, "user@example.org", validParams())
	code, err := q.Submit(tk)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if code == "" || tk.ID == "" {
		t.Fatalf("Submit assigned code=%q id=%q", code, tk.ID)
	}
	return tk, code
}

func supportV1() map[string][]string { return map[string][]string{"abmb_c": {"1"}} }

// Full happy path: submit, confirm, poll, heartbeat, succeed.
func TestHappyPath(t *testing.T) {
	q, _ := testQueue(t)
	t1, code := submit(t, q, "1")

	if got := q.Confirm(code); got != ConfirmOkay {
		t.Fatalf("Confirm = %v, want okay", got)
	}

	got, status := q.Poll(supportV1())
	if status != PollTask || got == nil {
		t.Fatalf("Poll = (%v, %v), want task", got, status)
	}
	if got.ID != t1.ID {
		t.Errorf("polled task %s, want %s", got.ID, t1.ID)
	}
	if got.State != task.StateInFlight {
		t.Errorf("polled task state = %s, want IN_FLIGHT", got.State)
	}

	if !q.Heartbeat(t1.ID) {
		t.Error("Heartbeat on held task = false")
	}
	if !q.HasTask(t1.ID) {
		t.Error("HasTask on held task = false")
	}

	q.Succeed(t1.ID)
	if q.HasTask(t1.ID) {
		t.Error("HasTask after success = true")
	}

	if _, status := q.Poll(supportV1()); status != PollEmpty {
		t.Errorf("Poll after completion = %v, want empty_queue", status)
	}
}

// An unconfirmed task expires after the confirmation timeout.
func TestUnconfirmedTimeout(t *testing.T) {
	q, c := testQueue(t)
	_, code := submit(t, q, "1")

	c.advance(confirmTimeout + time.Second)
	q.Sweep()

	if got := q.Confirm(code); got != ConfirmExpired {
		t.Fatalf("Confirm after timeout = %v, want expired", got)
	}
	if _, status := q.Poll(supportV1()); status != PollEmpty {
		t.Errorf("Poll after expiry = %v, want empty_queue", status)
	}
}

// A crashed worker's task is reclaimed and re-dispatched; the late
// acknowledgement from the original worker is ignored without error.
func TestWorkerCrashReclaim(t *testing.T) {
	q, c := testQueue(t)
	t3, code := submit(t, q, "1")
	q.Confirm(code)

	// Worker A takes the task and disappears.
	got, status := q.Poll(supportV1())
	if status != PollTask {
		t.Fatalf("worker A poll = %v", status)
	}

	c.advance(heartbeatTimeout + time.Second)
	q.Sweep()

	if q.HasTask(t3.ID) {
		t.Error("task still reported in-flight after reclaim")
	}
	if q.Heartbeat(t3.ID) {
		t.Error("Heartbeat succeeded after reclaim")
	}

	// Worker B picks the same task up again (at-least-once).
	got, status = q.Poll(supportV1())
	if status != PollTask || got.ID != t3.ID {
		t.Fatalf("worker B poll = (%v, %v), want reclaimed task", got, status)
	}

	q.Succeed(t3.ID)

	// Late acks from worker A change nothing.
	q.Succeed(t3.ID)
	q.Fail(t3.ID)

	un, run, fl := q.Depths()
	if un+run+fl != 0 {
		t.Errorf("depths after terminal acks = (%d, %d, %d), want all zero", un, run, fl)
	}
}

// A runnable task with an unsupported version yields no_version and
// stays queued.
func TestVersionMismatch(t *testing.T) {
	q, _ := testQueue(t)
	_, code := submit(t, q, "2")
	q.Confirm(code)

	if _, status := q.Poll(supportV1()); status != PollNoVersion {
		t.Fatalf("Poll = %v, want no_version", status)
	}

	_, runnable, _ := q.Depths()
	if runnable != 1 {
		t.Errorf("runnable depth = %d, want 1 (task must remain queued)", runnable)
	}

	// A worker supporting version 2 gets it.
	got, status := q.Poll(map[string][]string{"abmb_c": {"1", "2"}})
	if status != PollTask || got.ModelVersion != "2" {
		t.Errorf("Poll with v2 support = (%v, %v)", got, status)
	}
}

// Validation failures reject the submission outright.
func TestSubmitValidation(t *testing.T) {
	q, _ := testQueue(t)

	bad := task.New("abmb_c", "1", "user@example.org", map[string]task.Value{
		"nSamples":    task.IntValue(-5),
		"wavelengths": task.RangeValue(400, 2500),
	})
	if _, err := q.Submit(bad); err == nil {
		t.Fatal("out-of-range submission accepted")
	}

	unknown := task.New("abmu_c", "1", "user@example.org", validParams())
	if _, err := q.Submit(unknown); err == nil {
		t.Fatal("unknown model accepted")
	}

	un, run, fl := q.Depths()
	if un+run+fl != 0 {
		t.Errorf("queue size changed by rejected submissions: (%d, %d, %d)", un, run, fl)
	}
}

// Has-workers reflects the poll window; a runnable task without
// workers stays runnable indefinitely.
func TestHasWorkersWindow(t *testing.T) {
	q, c := testQueue(t)

	if q.HasWorkers() {
		t.Error("HasWorkers before any poll = true")
	}

	q.Poll(supportV1())
	if !q.HasWorkers() {
		t.Error("HasWorkers right after poll = false")
	}

	c.advance(workerWindow + time.Second)
	if q.HasWorkers() {
		t.Error("HasWorkers after window elapsed = true")
	}

	_, code := submit(t, q, "1")
	q.Confirm(code)
	c.advance(24 * time.Hour)
	q.Sweep()

	_, runnable, _ := q.Depths()
	if runnable != 1 {
		t.Errorf("confirmed task gone after %v without workers; runnable = %d", 24*time.Hour, runnable)
	}
}

func TestConfirmationCodeSingleUse(t *testing.T) {
	q, _ := testQueue(t)
	_, code := submit(t, q, "1")

	if got := q.Confirm(code); got != ConfirmOkay {
		t.Fatalf("first Confirm = %v", got)
	}
	if got := q.Confirm(code); got != ConfirmNotFound {
		t.Errorf("second Confirm = %v, want notfound", got)
	}
	if got := q.Confirm("no-such-code"); got != ConfirmNotFound {
		t.Errorf("Confirm of unknown code = %v, want notfound", got)
	}
}

// Reclaimed tasks re-enter at the head of the runnable queue, ahead of
// later submissions.
func TestReclaimGoesToHead(t *testing.T) {
	q, c := testQueue(t)

	t1, code1 := submit(t, q, "1")
	q.Confirm(code1)

	// t1 goes in flight; t2 is confirmed while t1 runs.
	q.Poll(supportV1())
	t2, code2 := submit(t, q, "1")
	q.Confirm(code2)

	c.advance(heartbeatTimeout + time.Second)
	q.Sweep()

	first, status := q.Poll(supportV1())
	if status != PollTask || first.ID != t1.ID {
		t.Fatalf("first poll after reclaim = %s, want reclaimed %s", first.ID, t1.ID)
	}
	second, status := q.Poll(supportV1())
	if status != PollTask || second.ID != t2.ID {
		t.Fatalf("second poll = %s, want %s", second.ID, t2.ID)
	}
}

// Heartbeats keep a slow task alive across many sweep cycles.
func TestHeartbeatPreventsReclaim(t *testing.T) {
	q, c := testQueue(t)
	t1, code := submit(t, q, "1")
	q.Confirm(code)
	q.Poll(supportV1())

	for i := 0; i < 10; i++ {
		c.advance(heartbeatTimeout / 2)
		if !q.Heartbeat(t1.ID) {
			t.Fatalf("heartbeat %d lost ownership", i)
		}
		q.Sweep()
	}

	if !q.HasTask(t1.ID) {
		t.Error("task lost despite regular heartbeats")
	}
}

// Racing workers, duplicate confirmations, and a hot sweeper loop:
// every code is redeemed exactly once, no task is ever held by two
// workers while its heartbeats are current, and everything drains to a
// terminal state. Run with -race.
func TestConcurrentWorkersStress(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	// Real clock; the timeouts are far longer than the test runs, so a
	// reclaim or expiry here would be a correctness failure.
	q := New(testSpecs(), Options{
		ConfirmTimeout:    time.Minute,
		HeartbeatTimeout:  time.Minute,
		WorkerWindow:      time.Minute,
		TerminalRetention: time.Minute,
	}, logger)

	const (
		numTasks   = 200
		numWorkers = 8
	)

	codes := make([]string, 0, numTasks)
	for i := 0; i < numTasks; i++ {
		tk := task.New("abmb_c", "1", "user@example.org", validParams())
		code, err := q.Submit(tk)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		codes = append(codes, code)
	}

	// Two goroutines race to redeem each code; single-use means exactly
	// one wins per task.
	var confirmed atomic.Int64
	var cwg sync.WaitGroup
	for _, code := range codes {
		for i := 0; i < 2; i++ {
			cwg.Add(1)
			go func(code string) {
				defer cwg.Done()
				if q.Confirm(code) == ConfirmOkay {
					confirmed.Add(1)
				}
			}(code)
		}
	}
	cwg.Wait()
	if got := confirmed.Load(); got != numTasks {
		t.Fatalf("confirmations = %d, want %d", got, numTasks)
	}

	stopSweep := make(chan struct{})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		for {
			select {
			case <-stopSweep:
				return
			default:
				q.Sweep()
				runtime.Gosched()
			}
		}
	}()

	var held sync.Map // task id -> holder, while a worker owns it
	var processed atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				tk, status := q.Poll(supportV1())
				if tk == nil {
					if status == PollEmpty && processed.Load() >= numTasks {
						return
					}
					runtime.Gosched()
					continue
				}
				if prev, loaded := held.LoadOrStore(tk.ID, w); loaded {
					t.Errorf("task %s dispatched to worker %d while held by %v", tk.ID, w, prev)
				}
				if !q.Heartbeat(tk.ID) {
					t.Errorf("task %s lost ownership without a heartbeat timeout", tk.ID)
				}
				if !q.HasTask(tk.ID) {
					t.Errorf("HasTask(%s) = false while held", tk.ID)
				}
				if w%2 == 0 {
					q.Succeed(tk.ID)
				} else {
					q.Fail(tk.ID)
				}
				held.Delete(tk.ID)
				processed.Add(1)
			}
		}(w)
	}
	wg.Wait()
	close(stopSweep)
	<-sweepDone

	if got := processed.Load(); got != numTasks {
		t.Errorf("processed = %d, want %d", got, numTasks)
	}
	un, run, fl := q.Depths()
	if un+run+fl != 0 {
		t.Errorf("depths after drain = (%d, %d, %d), want all zero", un, run, fl)
	}
	if _, status := q.Poll(supportV1()); status != PollEmpty {
		t.Errorf("Poll after drain = %v, want empty_queue", status)
	}
}

// FIFO dispatch order follows confirmation order, not submission order.
func TestFIFOByConfirmation(t *testing.T) {
	q, _ := testQueue(t)

	ta, codeA := submit(t, q, "1")
	tb, codeB := submit(t, q, "1")

	// B confirms before A.
	q.Confirm(codeB)
	q.Confirm(codeA)

	first, _ := q.Poll(supportV1())
	second, _ := q.Poll(supportV1())
	if first.ID != tb.ID || second.ID != ta.ID {
		t.Errorf("dispatch order = %s, %s; want confirmation order %s, %s",
			first.ID, second.ID, tb.ID, ta.ID)
	}
}

// Package scheduler admits pending workers of one job under a global
// concurrency budget, binds each to an external process and an output sink,
// and aggregates per-worker and per-job completion state.
package scheduler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"inbox-analyzer/internal/domain"
	"inbox-analyzer/internal/procexec"
	"inbox-analyzer/internal/sink"
)

// ErrJobActive is returned when starting a job while another is running.
var ErrJobActive = errors.New("job already running")

// Process is the handle the scheduler keeps for a launched worker process.
type Process interface {
	Terminate()
	Alive() bool
}

// Launcher abstracts process spawning so tests can simulate workers.
type Launcher interface {
	Start(spec procexec.Spec, hooks procexec.Hooks) (Process, error)
}

// execLauncher spawns real OS processes via procexec.
type execLauncher struct{}

// Start launches a subprocess with streaming hooks.
func (execLauncher) Start(spec procexec.Spec, hooks procexec.Hooks) (Process, error) {
	p, err := procexec.Start(spec, hooks)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Reporter carries the engine's only outward signals. All hooks are
// optional. WorkerOutput may be invoked concurrently across workers from
// stream delivery goroutines; the remaining hooks are serialized.
type Reporter struct {
	WorkerStarted   func(job domain.Job, worker domain.Worker)
	WorkerCompleted func(job domain.Job, worker domain.Worker)
	JobCompleted    func(job domain.Job, summary domain.Summary)
	WorkerOutput    func(workerID string, chunk string)
}

// Config configures one scheduler instance.
type Config struct {
	// Budget caps concurrently running workers. Zero selects
	// DefaultBudget(); values below 2 are clamped to 2.
	Budget   int
	Template CommandTemplate
	Reporter Reporter
	// Launcher defaults to the real process executor when nil.
	Launcher Launcher
	// Sinks defaults to a fresh multiplexer when nil.
	Sinks *sink.Multiplexer
}

// DefaultBudget reserves two logical CPUs of headroom for the host and
// never drops below two workers.
func DefaultBudget() int {
	budget := runtime.NumCPU() - 2
	if budget < 2 {
		budget = 2
	}
	return budget
}

// Scheduler runs one job at a time. All job and worker mutations happen
// inside its single mutex; callers observe state through snapshots and
// reporter callbacks.
type Scheduler struct {
	budget   int
	template CommandTemplate
	reporter Reporter
	launcher Launcher
	sinks    *sink.Multiplexer

	mu      sync.Mutex
	job     *domain.Job
	procs   map[string]Process
	tails   map[string]*tailBuffer
	done    chan struct{}
	ended   bool
	stopped bool
}

// New creates a scheduler with its concurrency budget fixed for the
// instance's lifetime.
func New(cfg Config) *Scheduler {
	budget := cfg.Budget
	if budget == 0 {
		budget = DefaultBudget()
	}
	if budget < 2 {
		budget = 2
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = execLauncher{}
	}
	sinks := cfg.Sinks
	if sinks == nil {
		sinks = sink.NewMultiplexer()
	}
	return &Scheduler{
		budget:   budget,
		template: cfg.Template,
		reporter: cfg.Reporter,
		launcher: launcher,
		sinks:    sinks,
	}
}

// Budget returns the configured concurrency cap.
func (s *Scheduler) Budget() int { return s.budget }

// Sinks returns the output multiplexer bound to this scheduler.
func (s *Scheduler) Sinks() *sink.Multiplexer { return s.sinks }

// Start takes ownership of a job and admits its first wave of workers.
// It returns immediately; completion is observed via the reporter, the
// Done channel, or snapshots.
func (s *Scheduler) Start(job *domain.Job) error {
	s.mu.Lock()
	if s.job != nil && !s.ended {
		s.mu.Unlock()
		return ErrJobActive
	}

	now := time.Now().UTC()
	job.StartedAt = &now
	s.job = job
	s.procs = make(map[string]Process)
	s.tails = make(map[string]*tailBuffer)
	s.done = make(chan struct{})
	s.ended = false
	s.stopped = false

	launches, failed := s.admitLocked()

	// Admission can fail every worker outright (for example when a sink id
	// is already taken). Without a running process there will be no exit to
	// settle the job, so close it out here.
	var (
		jobDone bool
		summary domain.Summary
	)
	if s.runningLocked() == 0 && len(launches) == 0 {
		s.job.EndedAt = &now
		s.ended = true
		summary = s.job.Summarize()
		jobDone = true
		close(s.done)
	}
	snapshot := s.job.Clone()
	s.mu.Unlock()

	if s.reporter.WorkerCompleted != nil {
		for _, w := range failed {
			s.reporter.WorkerCompleted(snapshot, w)
		}
	}
	s.launch(launches)
	if jobDone && s.reporter.JobCompleted != nil {
		s.reporter.JobCompleted(snapshot, summary)
	}
	return nil
}

// Done is closed once the current job reaches its terminal summary.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Snapshot returns a deep copy of the current job, if one exists.
func (s *Scheduler) Snapshot() (domain.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return domain.Job{}, false
	}
	return s.job.Clone(), true
}

// TerminateAll cancels the current job: admission stops for good and every
// live worker process is asked to exit. Safe to call at any time; each exit
// flows through the normal terminal transition path, and workers never
// admitted settle as blocked in the final summary.
func (s *Scheduler) TerminateAll() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.sinks.TerminateAll()
}

// launchOrder is one admission decision made under the scheduler mutex.
type launchOrder struct {
	workerID string
	spec     procexec.Spec
	out      *sink.Sink
	tail     *tailBuffer
}

// admitLocked scans pending workers in declaration order and transitions
// every eligible one to running, up to the budget. Workers that fail during
// admission are returned terminal so callers can dispatch their completion
// callbacks after unlocking. Caller holds s.mu.
func (s *Scheduler) admitLocked() ([]launchOrder, []domain.Worker) {
	if s.stopped {
		return nil, nil
	}
	slots := s.budget - s.runningLocked()
	if slots <= 0 {
		return nil, nil
	}

	minPhase := s.job.MinPhase()
	foundationComplete := true
	for _, w := range s.job.Workers {
		if w.Phase == minPhase && w.Status != domain.WorkerStatusComplete {
			foundationComplete = false
			break
		}
	}

	var (
		launches []launchOrder
		failed   []domain.Worker
	)
	for i := range s.job.Workers {
		if slots == 0 {
			break
		}
		w := &s.job.Workers[i]
		if !domain.ValidWorkerTransition(w.Status, domain.WorkerStatusRunning) {
			continue
		}
		if w.Phase != minPhase && !foundationComplete {
			continue
		}

		now := time.Now().UTC()
		w.Status = domain.WorkerStatusRunning
		w.StartedAt = &now
		slots--

		out, err := s.sinks.Create(w.ID, w.Name)
		if err != nil {
			// A stale sink from a previous panel session; reuse is not
			// allowed, so surface it as a worker failure. The slot goes
			// back to the scan.
			w.Status = domain.WorkerStatusError
			w.Detail = err.Error()
			w.EndedAt = &now
			slots++
			failed = append(failed, *w)
			continue
		}
		tail := newTailBuffer(512)
		s.tails[w.ID] = tail
		launches = append(launches, launchOrder{
			workerID: w.ID,
			spec:     s.template.Spec(*w, s.job.WorkingDir),
			out:      out,
			tail:     tail,
		})
	}
	return launches, failed
}

// launch spawns processes for admission decisions. Runs without s.mu so
// that exit hooks can re-enter the scheduler freely.
func (s *Scheduler) launch(launches []launchOrder) {
	for _, order := range launches {
		order := order
		hooks := procexec.Hooks{
			OnStdout: func(chunk []byte) {
				order.out.Append(string(chunk))
				s.emitOutput(order.workerID, chunk)
			},
			OnStderr: func(chunk []byte) {
				order.out.Append(string(chunk))
				order.tail.Write(chunk)
				s.emitOutput(order.workerID, chunk)
			},
			OnExit: func(code int) {
				s.workerExited(order.workerID, code)
			},
		}

		proc, err := s.launcher.Start(order.spec, hooks)
		if err != nil {
			s.workerFailed(order.workerID, fmt.Sprintf("spawn failed: %v", err))
			continue
		}

		s.mu.Lock()
		w := s.job.Worker(order.workerID)
		if w.Status == domain.WorkerStatusRunning {
			// The process may already have exited through its hook.
			s.procs[order.workerID] = proc
		}
		job := s.job.Clone()
		worker := *w
		s.mu.Unlock()

		s.sinks.BindTerminator(order.workerID, proc.Terminate)
		if s.reporter.WorkerStarted != nil {
			s.reporter.WorkerStarted(job, worker)
		}
	}
}

// workerExited records a process exit and re-evaluates admission.
func (s *Scheduler) workerExited(workerID string, code int) {
	status := domain.WorkerStatusComplete
	if code != 0 {
		status = domain.WorkerStatusError
	}

	s.mu.Lock()
	w := s.job.Worker(workerID)
	if w == nil || !domain.ValidWorkerTransition(w.Status, status) {
		s.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	w.EndedAt = &now
	w.ExitCode = code
	w.Status = status
	if status == domain.WorkerStatusError {
		w.Detail = exitDetail(code, s.tails[workerID])
	}
	delete(s.procs, workerID)
	delete(s.tails, workerID)
	s.settleLocked(workerID)
}

// workerFailed records a worker that never launched successfully.
func (s *Scheduler) workerFailed(workerID, detail string) {
	s.mu.Lock()
	w := s.job.Worker(workerID)
	if w == nil || !domain.ValidWorkerTransition(w.Status, domain.WorkerStatusError) {
		s.mu.Unlock()
		return
	}

	now := time.Now().UTC()
	w.EndedAt = &now
	w.Status = domain.WorkerStatusError
	w.Detail = detail
	delete(s.procs, workerID)
	delete(s.tails, workerID)
	s.settleLocked(workerID)
}

// settleLocked finishes a terminal transition: it marks the sink exited,
// admits newly eligible workers, detects job completion, and dispatches
// reporter callbacks after releasing the mutex. Caller holds s.mu, which
// this method releases.
func (s *Scheduler) settleLocked(workerID string) {
	finished := *s.job.Worker(workerID)
	launches, failed := s.admitLocked()

	var (
		jobDone bool
		summary domain.Summary
	)
	if !s.ended && s.runningLocked() == 0 && len(launches) == 0 {
		// Any worker still pending here can never become eligible: its
		// foundation phase failed or the job was cancelled. The job is
		// terminal.
		now := time.Now().UTC()
		s.job.EndedAt = &now
		s.ended = true
		summary = s.job.Summarize()
		jobDone = true
		close(s.done)
	}
	job := s.job.Clone()
	s.mu.Unlock()

	if out, err := s.sinks.Get(workerID); err == nil {
		out.MarkExited()
	}
	if s.reporter.WorkerCompleted != nil {
		s.reporter.WorkerCompleted(job, finished)
		for _, w := range failed {
			s.reporter.WorkerCompleted(job, w)
		}
	}
	s.launch(launches)
	if jobDone && s.reporter.JobCompleted != nil {
		s.reporter.JobCompleted(job, summary)
	}
}

// runningLocked counts workers currently in the running state.
func (s *Scheduler) runningLocked() int {
	count := 0
	for _, w := range s.job.Workers {
		if w.Status == domain.WorkerStatusRunning {
			count++
		}
	}
	return count
}

// emitOutput forwards a stream chunk to the reporter when configured.
func (s *Scheduler) emitOutput(workerID string, chunk []byte) {
	if s.reporter.WorkerOutput != nil {
		s.reporter.WorkerOutput(workerID, string(chunk))
	}
}

// exitDetail builds the error detail for a non-zero exit.
func exitDetail(code int, tail *tailBuffer) string {
	if tail != nil {
		if text := tail.String(); text != "" {
			return fmt.Sprintf("exit code %d: %s", code, text)
		}
	}
	return fmt.Sprintf("exit code %d", code)
}

// tailBuffer retains the last N bytes written, for stderr diagnostics.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

// Write appends bytes, discarding the oldest beyond the limit.
func (t *tailBuffer) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = append(t.buf[:0:0], t.buf[len(t.buf)-t.limit:]...)
	}
}

// String returns the retained tail as text.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

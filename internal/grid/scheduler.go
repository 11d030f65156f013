package grid

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/internal/proc"
	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/logger"
	"golang.org/x/sync/semaphore"
)

// ErrSchedulerClosed is returned for submissions after Close.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Scheduler runs submitted jobs asynchronously on a fixed number of slots.
type Scheduler struct {
	jobs  *JobStore
	slots *semaphore.Weighted
	size  int

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewScheduler returns a scheduler with the given number of slots. A
// non-positive slot count means one slot per CPU.
func NewScheduler(jobs *JobStore, slots int) *Scheduler {
	if slots <= 0 {
		slots = runtime.NumCPU()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   jobs,
		slots:  semaphore.NewWeighted(int64(slots)),
		size:   slots,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Slots returns the number of jobs that may run at once.
func (s *Scheduler) Slots() int {
	return s.size
}

// Submit registers job and queues it for execution.
func (s *Scheduler) Submit(job Job) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return JobRecord{}, ErrSchedulerClosed
	}

	rec, err := s.jobs.Create(job)
	if err != nil {
		return JobRecord{}, err
	}
	s.wg.Add(1)
	go s.run(rec.Job)
	return rec, nil
}

// Status returns the current state of the job with the given id.
func (s *Scheduler) Status(id string) (JobStatus, error) {
	rec, ok := s.jobs.Get(id)
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return rec.Status, nil
}

// Close stops accepting jobs, kills running ones and waits for all job
// goroutines to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()

	if err := s.slots.Acquire(s.ctx, 1); err != nil {
		s.finish(job.ID, -1, 0, "scheduler stopped before job started")
		return
	}
	defer s.slots.Release(1)

	if err := s.jobs.SetRunning(job.ID); err != nil {
		logger.Error("failed to mark job running", "job_id", job.ID, "error", err)
		return
	}
	logger.Debug("job started", "job_id", job.ID, "executable", job.Executable)

	outcome, err := proc.Run(s.ctx, proc.Invocation{
		Executable: job.Executable,
		Args:       job.Args,
		Env:        job.Env,
		Dir:        job.Dir,
	})
	if err != nil {
		s.finish(job.ID, -1, 0, err.Error())
		return
	}
	if !outcome.Success() {
		logger.Warn("job exited non-zero", "job_id", job.ID, "exit_code", outcome.ExitCode)
	}
	s.finish(job.ID, outcome.ExitCode, outcome.Elapsed, "")
}

func (s *Scheduler) finish(id string, exitCode int, elapsed time.Duration, errMsg string) {
	if err := s.jobs.Finish(id, exitCode, elapsed, errMsg); err != nil {
		logger.Error("failed to record job result", "job_id", id, "error", err)
		return
	}
	logger.Info("job finished", "job_id", id, "exit_code", exitCode, "elapsed", elapsed, "error", errMsg)
}

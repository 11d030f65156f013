package grid

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/utils"
)

// JobRecord is a job together with its bookkeeping.
type JobRecord struct {
	Job             Job
	Status          JobStatus
	CreatedAtUnixMs int64
	StartedAtUnixMs int64
	EndedAtUnixMs   int64
}

// JobStore keeps jobs in memory, keyed by id.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*JobRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers job as pending. An empty id is replaced by a fresh one.
func (s *JobStore) Create(job Job) (JobRecord, error) {
	if err := job.validate(); err != nil {
		return JobRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = utils.GenerateResultID()
	}
	if _, exists := s.jobs[job.ID]; exists {
		return JobRecord{}, fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	job.Args = slices.Clone(job.Args)
	job.Env = slices.Clone(job.Env)
	rec := &JobRecord{
		Job:             job,
		Status:          JobStatus{ID: job.ID, State: StatePending},
		CreatedAtUnixMs: nowUnixMs(),
	}
	s.jobs[job.ID] = rec
	return *rec, nil
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id string) (JobRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}

// Len returns the number of known jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Counts returns the number of jobs per state.
func (s *JobStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, 4)
	for _, rec := range s.jobs {
		out[rec.Status.State]++
	}
	return out
}

// SetRunning marks a job as started.
func (s *JobStore) SetRunning(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	rec.Status.State = StateRunning
	if rec.StartedAtUnixMs == 0 {
		rec.StartedAtUnixMs = nowUnixMs()
	}
	return nil
}

// Finish records the terminal state of a job.
func (s *JobStore) Finish(id string, exitCode int, elapsed time.Duration, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	rec.Status.ExitCode = exitCode
	rec.Status.ElapsedSeconds = elapsed.Seconds()
	rec.Status.Error = errMsg
	if exitCode == 0 && errMsg == "" {
		rec.Status.State = StateSucceeded
	} else {
		rec.Status.State = StateFailed
	}
	rec.EndedAtUnixMs = nowUnixMs()
	return nil
}

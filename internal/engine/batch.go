package engine

import (
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/simulation-campaign/pkg/utils"
)

// Batch states.
const (
	BatchPending   = "pending"
	BatchRunning   = "running"
	BatchCompleted = "completed"
	BatchFailed    = "failed"
)

// Summary describes one dispatched batch of simulations.
type Summary struct {
	Status    string
	Requested int
	Completed int
	Failed    int
	// MeanElapsed is the mean wall-clock time of completed simulations.
	MeanElapsed time.Duration
	Duration    time.Duration
	Error       string
}

// BatchTracker manages the lifecycle of a batch of simulations.
type BatchTracker struct {
	mu        sync.RWMutex
	status    string
	requested int
	completed int
	failed    int
	elapsed   []float64
	startTime time.Time
	endTime   time.Time
	err       string
}

// NewBatchTracker creates a tracker for a batch of requested simulations.
func NewBatchTracker(requested int) *BatchTracker {
	return &BatchTracker{
		status:    BatchPending,
		requested: requested,
		elapsed:   make([]float64, 0, requested),
	}
}

// Start marks the batch as started
func (b *BatchTracker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = BatchRunning
	b.startTime = time.Now()
}

// RecordSuccess records a stored result and its elapsed seconds
func (b *BatchTracker) RecordSuccess(elapsedSeconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	b.elapsed = append(b.elapsed, elapsedSeconds)
}

// RecordFailure records a simulation that produced no stored result
func (b *BatchTracker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed++
}

// Complete marks the batch as completed
func (b *BatchTracker) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = BatchCompleted
	b.endTime = time.Now()
}

// Fail marks the batch as failed
func (b *BatchTracker) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = BatchFailed
	b.endTime = time.Now()
	b.err = err.Error()
}

// Summary returns the current batch state (thread-safe)
func (b *BatchTracker) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	end := b.endTime
	if end.IsZero() {
		end = time.Now()
	}
	var duration time.Duration
	if !b.startTime.IsZero() {
		duration = end.Sub(b.startTime)
	}
	return Summary{
		Status:      b.status,
		Requested:   b.requested,
		Completed:   b.completed,
		Failed:      b.failed,
		MeanElapsed: utils.SecondsToDuration(utils.Mean(b.elapsed)),
		Duration:    duration,
		Error:       b.err,
	}
}

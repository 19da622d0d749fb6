package progress

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

// ErrNotFound is returned for job ids that were never created or have been swept
var ErrNotFound = errors.New("job not found")

// Tracker holds progress records for background jobs, keyed by job id.
// It is safe for concurrent use by request handlers and job goroutines.
type Tracker struct {
	records map[string]*models.ProgressRecord
	mu      sync.RWMutex
	logger  *slog.Logger
	now     func() time.Time
}

func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		records: make(map[string]*models.ProgressRecord),
		logger:  logger,
		now:     time.Now,
	}
}

// Create registers a job in the initialized state. Creating an existing id resets it.
func (t *Tracker) Create(jobID, resultID string, total int) models.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := &models.ProgressRecord{
		JobID:     jobID,
		ResultID:  resultID,
		Total:     max(total, 0),
		Status:    models.StatusInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.records[jobID] = rec
	return *rec
}

// Update records that completed items are done and currentItem was the latest.
// The completed count never goes backwards and never exceeds the total.
// An update against an unknown job is logged and ignored.
func (t *Tracker) Update(jobID string, completed int, currentItem string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID]
	if !ok {
		t.logger.Error("Progress update for unknown job", "job_id", jobID, "completed", completed)
		return ErrNotFound
	}
	if rec.Status.Terminal() {
		t.logger.Warn("Progress update for finished job ignored", "job_id", jobID, "status", rec.Status)
		return nil
	}

	completed = min(max(completed, rec.Completed), rec.Total)
	rec.Completed = completed
	rec.Percent = percent(completed, rec.Total)
	rec.CurrentItem = currentItem
	rec.Status = models.StatusProcessing
	rec.UpdatedAt = t.now()
	return nil
}

// MarkStatus moves a job to status. Transitions that would move the job
// backwards, or out of a terminal state, are ignored.
func (t *Tracker) MarkStatus(jobID string, status models.JobStatus, errMsg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[jobID]
	if !ok {
		t.logger.Error("Status change for unknown job", "job_id", jobID, "status", status)
		return ErrNotFound
	}
	if rec.Status.Terminal() || status.Rank() < rec.Status.Rank() {
		t.logger.Warn("Ignoring status regression", "job_id", jobID, "from", rec.Status, "to", status)
		return nil
	}

	rec.Status = status
	rec.Error = errMsg
	if status == models.StatusComplete {
		rec.Completed = rec.Total
		rec.Percent = 100
		rec.CurrentItem = ""
	}
	rec.UpdatedAt = t.now()
	return nil
}

// Get returns a copy of the job's record
func (t *Tracker) Get(jobID string) (models.ProgressRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[jobID]
	if !ok {
		return models.ProgressRecord{}, ErrNotFound
	}
	return *rec, nil
}

// Sweep removes finished jobs last updated more than ttl ago and returns how many were removed
func (t *Tracker) Sweep(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	removed := 0
	for id, rec := range t.records {
		if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}

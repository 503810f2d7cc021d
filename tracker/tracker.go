// Package tracker maintains per-job pipeline state: an ordered step record
// with timing and failure detail, overall status transitions, and derived
// progress reporting.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appraisio/acore/logger"
	"github.com/google/uuid"
)

// Config represents tracker configuration
type Config struct {
	TotalSteps int // expected pipeline length for progress math
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{TotalSteps: len(DefaultSteps)}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.TotalSteps < 1 {
		return errors.New("total steps must be greater than 0")
	}
	return nil
}

// Statistics is a point-in-time tracker summary.
type Statistics struct {
	TotalJobs                    int            `json:"total_jobs"`
	StatusCounts                 map[Status]int `json:"status_counts"`
	ActiveJobs                   int            `json:"active_jobs"`
	AverageProcessingTimeSeconds float64        `json:"average_processing_time_seconds"`
}

// Tracker is an explicitly owned registry of per-job status records.
// Construct one per scheduler (or per test); there is no ambient singleton.
type Tracker struct {
	cfg      *Config
	statuses map[string]*StatusInfo
	mu       sync.RWMutex
	log      *logger.Logger
}

// New creates a new tracker.
func New(cfg *Config) *Tracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{
		cfg:      cfg,
		statuses: make(map[string]*StatusInfo),
		log:      logger.StdLogger(),
	}
}

// Create registers a new job in status SUBMITTED at 0% progress.
func (t *Tracker) Create(jobID, userID, correlationID string) StatusInfo {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	info := &StatusInfo{
		JobID:         jobID,
		UserID:        userID,
		Status:        StatusSubmitted,
		SubmittedAt:   time.Now(),
		TotalSteps:    t.cfg.TotalSteps,
		CorrelationID: correlationID,
	}

	t.mu.Lock()
	t.statuses[jobID] = info
	t.mu.Unlock()

	t.log.Info(context.Background(), "created job status", "job_id", jobID)
	return info.clone()
}

// Get returns a copy of the status record for jobID.
func (t *Tracker) Get(jobID string) (StatusInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return StatusInfo{}, false
	}
	return info.clone(), true
}

// UpdateStatus moves a job to a new coarse status, optionally entering a
// step. Terminal records are never reopened.
func (t *Tracker) UpdateStatus(jobID string, status Status, step Step) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		t.log.Warn(context.Background(), "job status not found", "job_id", jobID)
		return false
	}
	if info.Status.IsTerminal() {
		return false
	}

	info.Status = status
	if step != "" {
		now := time.Now()
		info.CurrentStep = step
		info.currentStepStarted = &now
	}
	if status != StatusSubmitted && info.StartedProcessingAt == nil {
		now := time.Now()
		info.StartedProcessingAt = &now
	}
	if status.IsTerminal() {
		now := time.Now()
		info.CompletedAt = &now
	}
	info.ProgressPercentage = info.calculateProgress()

	t.log.Info(context.Background(), "job status updated",
		"job_id", jobID, "status", status, "progress", fmt.Sprintf("%.1f", info.ProgressPercentage))
	return true
}

// WithStep runs fn as one step attempt: a StepResult is recorded RUNNING on
// entry and closed on every exit path. On success the returned value is
// stored with the computed duration; on error the step is marked failed and
// the error is returned unchanged. A panic closes the step as failed before
// propagating. This is the only sanctioned way to progress a step.
func (t *Tracker) WithStep(jobID string, step Step, fn func() (any, error)) (result any, err error) {
	t.startStep(jobID, step)

	defer func() {
		if r := recover(); r != nil {
			t.completeStep(jobID, step, nil, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		t.completeStep(jobID, step, result, err)
	}()

	result, err = fn()
	return result, err
}

// SkipStep records a step as skipped with an attached result, typically a
// memoized value that made execution unnecessary.
func (t *Tracker) SkipStep(jobID string, step Step, result any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return
	}

	now := time.Now()
	info.Steps = append(info.Steps, StepResult{
		Step:        step,
		Status:      StepSkipped,
		StartedAt:   now,
		CompletedAt: &now,
		Result:      result,
	})
}

func (t *Tracker) startStep(jobID string, step Step) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return
	}

	now := time.Now()
	info.CurrentStep = step
	info.currentStepStarted = &now
	info.Steps = append(info.Steps, StepResult{
		Step:      step,
		Status:    StepRunning,
		StartedAt: now,
	})
	info.ProgressPercentage = info.calculateProgress()

	t.log.Debug(context.Background(), "step started", "job_id", jobID, "step", step)
}

func (t *Tracker) completeStep(jobID string, step Step, result any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return
	}

	// close the latest attempt at this step
	for i := len(info.Steps) - 1; i >= 0; i-- {
		if info.Steps[i].Step == step {
			info.Steps[i].complete(result, err)
			if err != nil {
				t.log.Warn(context.Background(), "step failed",
					"job_id", jobID, "step", step, "error", err.Error())
			} else {
				t.log.Debug(context.Background(), "step completed",
					"job_id", jobID, "step", step, "duration", info.Steps[i].Duration)
			}
			break
		}
	}

	info.currentStepStarted = nil
	info.ProgressPercentage = info.calculateProgress()
	info.updateEstimatedCompletion()
}

// Fail marks a job FAILED with error detail; a running step is closed as
// failed too so the step record stays consistent.
func (t *Tracker) Fail(jobID, message string, details map[string]any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return false
	}
	if info.Status.IsTerminal() {
		return false
	}

	if info.currentStepStarted != nil && info.CurrentStep != "" {
		for i := len(info.Steps) - 1; i >= 0; i-- {
			if info.Steps[i].Step == info.CurrentStep && info.Steps[i].Status == StepRunning {
				info.Steps[i].complete(nil, errors.New(message))
				break
			}
		}
		info.currentStepStarted = nil
	}

	info.Status = StatusFailed
	info.ErrorMessage = message
	info.ErrorDetails = details
	now := time.Now()
	info.CompletedAt = &now

	t.log.Error(context.Background(), "job failed", "job_id", jobID, "error", message)
	return true
}

// Complete marks a job COMPLETED with its final result at exactly 100%.
func (t *Tracker) Complete(jobID string, result any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return false
	}
	if info.Status.IsTerminal() {
		return false
	}

	info.Status = StatusCompleted
	info.FinalResult = result
	now := time.Now()
	info.CompletedAt = &now
	info.ProgressPercentage = 100

	t.log.Info(context.Background(), "job completed", "job_id", jobID)
	return true
}

// Cancel marks a job CANCELLED. Progress freezes at its last value.
func (t *Tracker) Cancel(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.statuses[jobID]
	if !ok {
		return false
	}
	if info.Status.IsTerminal() {
		return false
	}

	info.Status = StatusCancelled
	now := time.Now()
	info.CompletedAt = &now

	t.log.Info(context.Background(), "job cancelled", "job_id", jobID)
	return true
}

// GetActive returns copies of all jobs not in a terminal status.
func (t *Tracker) GetActive() []StatusInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []StatusInfo
	for _, info := range t.statuses {
		if !info.Status.IsTerminal() {
			active = append(active, info.clone())
		}
	}
	return active
}

// GetUser returns copies of all jobs belonging to userID.
func (t *Tracker) GetUser(userID string) []StatusInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var jobs []StatusInfo
	for _, info := range t.statuses {
		if info.UserID == userID {
			jobs = append(jobs, info.clone())
		}
	}
	return jobs
}

// GetStatistics returns aggregate tracker statistics.
func (t *Tracker) GetStatistics() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Statistics{
		TotalJobs:    len(t.statuses),
		StatusCounts: make(map[Status]int),
	}

	completed := 0
	var totalSeconds float64
	for _, info := range t.statuses {
		stats.StatusCounts[info.Status]++
		if !info.Status.IsTerminal() {
			stats.ActiveJobs++
		}
		if info.Status == StatusCompleted && info.StartedProcessingAt != nil && info.CompletedAt != nil {
			completed++
			totalSeconds += info.CompletedAt.Sub(*info.StartedProcessingAt).Seconds()
		}
	}
	if completed > 0 {
		stats.AverageProcessingTimeSeconds = totalSeconds / float64(completed)
	}

	return stats
}

// Cleanup removes terminal records whose completion is older than maxAge and
// returns the count removed.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	count := 0
	for id, info := range t.statuses {
		if info.Status.IsTerminal() && info.CompletedAt != nil && info.CompletedAt.Before(cutoff) {
			delete(t.statuses, id)
			count++
		}
	}

	if count > 0 {
		t.log.Info(context.Background(), "cleaned up job statuses", "count", count)
	}
	return count
}

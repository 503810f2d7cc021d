package scheduler

import (
	"context"
	"time"
)

// Priority orders pending jobs. Higher values dequeue first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Status is the scheduler-level lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusRetrying marks a job between a failed attempt and its
	// timer-scheduled re-enqueue. It is a recorded status, not a queue state.
	StatusRetrying Status = "retrying"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobFunc is one job's entire unit of work. It must honor ctx cancellation
// at its suspension points; cancellation of code that never checks ctx is
// best-effort and may complete normally first.
type JobFunc func(ctx context.Context) (any, error)

// Definition is the immutable description of submitted work. It is owned by
// the pending queue until dequeued.
type Definition struct {
	ID            string
	Type          string
	Priority      Priority
	Fn            JobFunc
	MaxRetries    int
	RetryDelay    time.Duration
	Timeout       time.Duration
	Metadata      map[string]any
	CorrelationID string

	seq uint64 // submission sequence, breaks priority ties
}

// SubmitOptions carries optional submission parameters. Zero values take
// scheduler defaults.
type SubmitOptions struct {
	Priority      Priority       `validate:"omitempty,min=1,max=4"`
	MaxRetries    int            `validate:"gte=0,lte=100"`
	NoRetry       bool           `validate:"-"` // disable retries regardless of MaxRetries
	RetryDelay    time.Duration  `validate:"gte=0"`
	Timeout       time.Duration  `validate:"gte=0"`
	Metadata      map[string]any `validate:"-"`
	CorrelationID string         `validate:"omitempty,max=128"`
	// OnTerminal, when set, is invoked once with the final result after the
	// job reaches COMPLETED, FAILED, or CANCELLED.
	OnTerminal func(*Result) `validate:"-"`
}

// Progress is coarse per-job progress, distinct from the tracker's
// step-level record.
type Progress struct {
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	StepName    string         `json:"step_name"`
	Percentage  float64        `json:"percentage"`
	Details     map[string]any `json:"details,omitempty"`
}

// update moves progress forward to the given step.
func (p *Progress) update(step int, stepName string, details map[string]any) {
	p.CurrentStep = step
	p.StepName = stepName
	if p.TotalSteps > 0 {
		p.Percentage = float64(step) / float64(p.TotalSteps) * 100
	}
	if details != nil {
		if p.Details == nil {
			p.Details = make(map[string]any, len(details))
		}
		for k, v := range details {
			p.Details[k] = v
		}
	}
}

// Attempt records one execution attempt's failure, keeping the retry
// history auditable even when a later attempt succeeds.
type Attempt struct {
	Number    int       `json:"number"`
	Error     string    `json:"error"`
	ErrorCode string    `json:"error_code"`
	At        time.Time `json:"at"`
}

// Result is the mutable execution record for one job. It is mutated only by
// the worker currently owning the job or by a cancelling submitter.
type Result struct {
	JobID         string         `json:"job_id"`
	Status        Status         `json:"status"`
	Value         any            `json:"value,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorDetails  map[string]any `json:"error_details,omitempty"`
	Progress      Progress       `json:"progress"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Duration      time.Duration  `json:"duration"`
	RetryCount    int            `json:"retry_count"`
	Attempts      []Attempt      `json:"attempts,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// clone returns a copy safe to hand to callers.
func (r *Result) clone() *Result {
	cp := *r
	cp.Attempts = append([]Attempt(nil), r.Attempts...)
	return &cp
}

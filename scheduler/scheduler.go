// Package scheduler implements a priority task scheduler with a bounded
// worker pool, linear retry backoff, and timeout enforcement. It executes
// arbitrary callables and never inspects their domain logic.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appraisio/acore/ctxutil"
	"github.com/appraisio/acore/ecode"
	"github.com/appraisio/acore/logger"
	"github.com/appraisio/acore/utils"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// pollInterval is the worker fallback wakeup, matching notify tokens lost
// under burst submission.
const pollInterval = 100 * time.Millisecond

// Config represents scheduler configuration
type Config struct {
	MaxWorkers        int           // number of concurrent execution slots
	QueueSize         int           // pending queue capacity
	DefaultMaxRetries int           // retry budget when a submission gives none
	DefaultRetryDelay time.Duration // backoff base when a submission gives none
	DefaultTimeout    time.Duration // job timeout when a submission gives none, 0 = none
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers:        5,
		QueueSize:         1000,
		DefaultMaxRetries: 3,
		DefaultRetryDelay: time.Second,
	}
}

// Validate validates configuration
func (cfg *Config) Validate() error {
	if cfg.MaxWorkers < 1 {
		return errors.New("max workers must be greater than 0")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue size must be greater than 0")
	}
	if cfg.DefaultMaxRetries < 0 {
		return errors.New("default max retries must be greater than or equal to 0")
	}
	if cfg.DefaultRetryDelay < 0 {
		return errors.New("default retry delay must be greater than or equal to 0")
	}
	return nil
}

// Stats is a point-in-time scheduler snapshot.
type Stats struct {
	TotalJobs    int            `json:"total_jobs"`
	RunningJobs  int            `json:"running_jobs"`
	QueuedJobs   int            `json:"queued_jobs"`
	MaxWorkers   int            `json:"max_workers"`
	StatusCounts map[Status]int `json:"status_counts"`
	IsRunning    bool           `json:"is_running"`
}

type execOutcome struct {
	value any
	err   error
}

// Scheduler owns the pending queue, the worker pool, and the per-job result
// registry. Construct one per process or per test; there is no ambient
// singleton.
type Scheduler struct {
	cfg   *Config
	queue *pendingQueue

	mu          sync.Mutex
	results     map[string]*Result
	running     map[string]context.CancelFunc
	retryTimers map[string]*time.Timer
	onTerminal  map[string]func(*Result)

	seq       atomic.Uint64
	notify    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool

	log      *logger.Logger
	validate *validator.Validate
}

// New creates a scheduler. Call Start before submitting work.
func New(cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:         cfg,
		queue:       newPendingQueue(cfg.QueueSize),
		results:     make(map[string]*Result),
		running:     make(map[string]context.CancelFunc),
		retryTimers: make(map[string]*time.Timer),
		onTerminal:  make(map[string]func(*Result)),
		notify:      make(chan struct{}, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		log:         logger.StdLogger(),
		validate:    validator.New(),
	}, nil
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	if !s.isRunning.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < s.cfg.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info(context.Background(), "scheduler started", "max_workers", s.cfg.MaxWorkers)
}

// Stop cancels running jobs and pending retries, then waits for workers to
// drain until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	if !s.isRunning.CompareAndSwap(true, false) {
		return
	}

	s.mu.Lock()
	for id, timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, id)
	}
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info(context.Background(), "scheduler stopped")
}

// IsRunning reports whether the worker pool is active.
func (s *Scheduler) IsRunning() bool {
	return s.isRunning.Load()
}

// Submit validates and enqueues a job, returning its id. The job starts in
// status PENDING; equal priorities run in submission order.
func (s *Scheduler) Submit(ctx context.Context, jobType string, fn JobFunc, opts *SubmitOptions) (string, error) {
	if jobType == "" {
		return "", ecode.Validation("job type is required")
	}
	if fn == nil {
		return "", ecode.Validation("job callable is required")
	}
	if opts == nil {
		opts = &SubmitOptions{}
	}
	if err := s.validate.Struct(opts); err != nil {
		return "", ecode.Wrap(ecode.CodeValidation, "invalid submit options", err)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.cfg.DefaultMaxRetries
	}
	if opts.NoRetry {
		maxRetries = 0
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = s.cfg.DefaultRetryDelay
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.cfg.DefaultTimeout
	}
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = ctxutil.GetCorrelationID(ctx)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	def := &Definition{
		ID:            utils.NanoID(),
		Type:          jobType,
		Priority:      priority,
		Fn:            fn,
		MaxRetries:    maxRetries,
		RetryDelay:    retryDelay,
		Timeout:       timeout,
		Metadata:      opts.Metadata,
		CorrelationID: correlationID,
		seq:           s.seq.Add(1),
	}

	result := &Result{
		JobID:         def.ID,
		Status:        StatusPending,
		Progress:      Progress{TotalSteps: 1, StepName: "queued"},
		CorrelationID: correlationID,
	}

	s.mu.Lock()
	s.results[def.ID] = result
	if opts.OnTerminal != nil {
		s.onTerminal[def.ID] = opts.OnTerminal
	}
	s.mu.Unlock()

	if err := s.queue.push(def); err != nil {
		s.mu.Lock()
		delete(s.results, def.ID)
		delete(s.onTerminal, def.ID)
		s.mu.Unlock()
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.wake()

	s.log.Info(ctx, "job submitted",
		"job_id", def.ID, "type", jobType, "priority", priority.String())
	return def.ID, nil
}

// GetStatus returns a copy of the job's result record, or nil if unknown.
func (s *Scheduler) GetStatus(jobID string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[jobID]
	if !ok {
		return nil
	}
	return res.clone()
}

// UpdateProgress lets the executing callable report coarse progress.
func (s *Scheduler) UpdateProgress(jobID string, step, totalSteps int, stepName string, details map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[jobID]
	if !ok || res.Status.IsTerminal() {
		return false
	}
	if totalSteps > 0 {
		res.Progress.TotalSteps = totalSteps
	}
	res.Progress.update(step, stepName, details)
	return true
}

// Cancel cancels a job. Pending jobs are dequeued and marked CANCELLED;
// running jobs are cancelled cooperatively and reach CANCELLED once the
// callable observes its context. Returns false for unknown or already
// terminal jobs.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[jobID]
	if !ok || res.Status.IsTerminal() {
		return false
	}

	// still queued: remove and finish here
	if s.queue.remove(jobID) {
		s.markCancelledLocked(res)
		s.fireTerminalLocked(res)
		s.log.Info(context.Background(), "job cancelled", "job_id", jobID)
		return true
	}

	// waiting on a retry timer
	if timer, exists := s.retryTimers[jobID]; exists {
		timer.Stop()
		delete(s.retryTimers, jobID)
		s.markCancelledLocked(res)
		s.fireTerminalLocked(res)
		s.log.Info(context.Background(), "job cancelled during retry wait", "job_id", jobID)
		return true
	}

	// running: signal the execution; the worker finalizes the record
	s.markCancelledLocked(res)
	if cancel, exists := s.running[jobID]; exists {
		cancel()
	} else {
		// popped but not yet executing; the worker's pre-check finalizes
		s.fireTerminalLocked(res)
	}
	s.log.Info(context.Background(), "job cancellation requested", "job_id", jobID)
	return true
}

// GetStats returns aggregate scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		TotalJobs:    len(s.results),
		RunningJobs:  len(s.running),
		QueuedJobs:   s.queue.len(),
		MaxWorkers:   s.cfg.MaxWorkers,
		StatusCounts: make(map[Status]int),
		IsRunning:    s.isRunning.Load(),
	}
	for _, res := range s.results {
		stats.StatusCounts[res.Status]++
	}
	return stats
}

// Cleanup removes terminal results whose completion is older than maxAge
// and returns the count removed.
func (s *Scheduler) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	count := 0
	for id, res := range s.results {
		if res.Status.IsTerminal() && res.CompletedAt != nil && res.CompletedAt.Before(cutoff) {
			delete(s.results, id)
			delete(s.onTerminal, id)
			count++
		}
	}

	if count > 0 {
		s.log.Info(context.Background(), "cleaned up job results", "count", count)
	}
	return count
}

// WaitFor blocks until the job reaches a terminal status or ctx expires.
func (s *Scheduler) WaitFor(ctx context.Context, jobID string, poll time.Duration) (*Result, error) {
	if poll <= 0 {
		poll = pollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		res := s.GetStatus(jobID)
		if res == nil {
			return nil, fmt.Errorf("job %s not found", jobID)
		}
		if res.Status.IsTerminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// QueueMetrics exposes pending-queue counters.
func (s *Scheduler) QueueMetrics() map[string]int64 {
	return s.queue.getMetrics()
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// worker pulls the highest-priority pending job and executes it. The ticker
// backstops notify tokens dropped under burst submission.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.notify:
		case <-ticker.C:
		}

		def := s.queue.pop()
		if def == nil {
			continue
		}
		s.execute(def)
	}
}

// execute runs one job attempt, racing the callable against its deadline.
func (s *Scheduler) execute(def *Definition) {
	s.mu.Lock()
	res, ok := s.results[def.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if res.Status == StatusCancelled {
		// cancelled between dequeue and execution
		s.mu.Unlock()
		return
	}

	res.Status = StatusRunning
	if res.StartedAt == nil {
		now := time.Now()
		res.StartedAt = &now
	}

	jobCtx := ctxutil.SetCorrelationID(s.ctx, def.CorrelationID)
	jobCtx = withJobID(jobCtx, def.ID)
	var cancel context.CancelFunc
	if def.Timeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, def.Timeout)
	} else {
		jobCtx, cancel = context.WithCancel(jobCtx)
	}
	s.running[def.ID] = cancel
	s.mu.Unlock()
	defer cancel()

	s.log.Info(jobCtx, "executing job", "job_id", def.ID, "type", def.Type, "attempt", res.RetryCount+1)

	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := def.Fn(jobCtx)
		done <- execOutcome{value: value, err: err}
	}()

	var outcome execOutcome
	select {
	case outcome = <-done:
	case <-jobCtx.Done():
		outcome = execOutcome{err: jobCtx.Err()}
	}
	// callables commonly surface ctx.Err() themselves; normalize either path
	if errors.Is(outcome.err, context.DeadlineExceeded) {
		outcome.err = ecode.Timeout(def.Timeout)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, def.ID)

	// a submitter cancellation wins over whatever the callable produced
	if res.Status == StatusCancelled || errors.Is(outcome.err, ecode.Cancelled()) ||
		errors.Is(outcome.err, context.Canceled) {
		s.markCancelledLocked(res)
		s.fireTerminalLocked(res)
		s.log.Info(context.Background(), "job cancelled", "job_id", def.ID)
		return
	}

	if outcome.err == nil {
		s.completeLocked(res, outcome.value)
		s.log.Info(context.Background(), "job completed",
			"job_id", def.ID, "duration", res.Duration.String())
		return
	}

	s.failAttemptLocked(def, res, outcome.err)
}

// completeLocked finalizes a successful job. Caller holds the lock.
func (s *Scheduler) completeLocked(res *Result, value any) {
	res.Status = StatusCompleted
	res.Value = value
	now := time.Now()
	res.CompletedAt = &now
	if res.StartedAt != nil {
		res.Duration = now.Sub(*res.StartedAt)
	}
	res.Progress.update(res.Progress.TotalSteps, "completed", map[string]any{"completed": true})
	res.Progress.Percentage = 100
	s.fireTerminalLocked(res)
}

// failAttemptLocked records a failed attempt and either schedules a retry
// or finalizes the job as FAILED. Caller holds the lock.
func (s *Scheduler) failAttemptLocked(def *Definition, res *Result, execErr error) {
	// plain callable errors get the execution code; already-coded errors
	// (timeout, cache key) keep theirs
	var coded *ecode.Error
	if !errors.As(execErr, &coded) {
		execErr = ecode.Execution(execErr)
	}

	attempt := Attempt{
		Number:    res.RetryCount + 1,
		Error:     execErr.Error(),
		ErrorCode: ecode.CodeOf(execErr),
		At:        time.Now(),
	}
	res.Attempts = append(res.Attempts, attempt)
	res.Error = execErr.Error()

	if res.RetryCount < def.MaxRetries {
		res.RetryCount++
		res.Status = StatusRetrying
		delay := def.RetryDelay * time.Duration(res.RetryCount)

		s.log.Warn(context.Background(), "job failed, retrying",
			"job_id", def.ID, "attempt", res.RetryCount, "max_retries", def.MaxRetries,
			"delay", delay.String(), "error", execErr.Error())

		// delayed re-submission; a sleeping retry never occupies a worker slot
		s.retryTimers[def.ID] = time.AfterFunc(delay, func() {
			s.requeue(def)
		})
		return
	}

	final := ecode.RetryExhausted(res.RetryCount, execErr)
	res.Status = StatusFailed
	res.Error = final.Error()
	res.ErrorDetails = map[string]any{
		"error_code": ecode.CodeOf(execErr),
		"last_error": execErr.Error(),
		"retries":    res.RetryCount,
	}
	now := time.Now()
	res.CompletedAt = &now
	if res.StartedAt != nil {
		res.Duration = now.Sub(*res.StartedAt)
	}
	s.fireTerminalLocked(res)

	s.log.Error(context.Background(), "job failed permanently",
		"job_id", def.ID, "retries", res.RetryCount, "error", execErr.Error())
}

// requeue returns a retrying job to the pending queue at its original
// priority.
func (s *Scheduler) requeue(def *Definition) {
	s.mu.Lock()
	delete(s.retryTimers, def.ID)
	res, ok := s.results[def.ID]
	if !ok || res.Status != StatusRetrying {
		// cancelled or cleaned up while waiting
		s.mu.Unlock()
		return
	}
	res.Status = StatusPending
	s.mu.Unlock()

	if err := s.queue.push(def); err != nil {
		s.mu.Lock()
		s.failAttemptLocked(def, res, fmt.Errorf("failed to requeue job: %w", err))
		s.mu.Unlock()
		return
	}
	s.wake()
}

// markCancelledLocked finalizes a cancelled result. Caller holds the lock.
func (s *Scheduler) markCancelledLocked(res *Result) {
	if res.Status == StatusCancelled && res.CompletedAt != nil {
		return
	}
	res.Status = StatusCancelled
	res.Error = ecode.Cancelled().Error()
	now := time.Now()
	res.CompletedAt = &now
	if res.StartedAt != nil {
		res.Duration = now.Sub(*res.StartedAt)
	}
}

// fireTerminalLocked invokes the job's terminal hook exactly once. Caller
// holds the lock; the hook runs on its own goroutine.
func (s *Scheduler) fireTerminalLocked(res *Result) {
	cb, ok := s.onTerminal[res.JobID]
	if !ok {
		return
	}
	delete(s.onTerminal, res.JobID)
	snapshot := res.clone()
	go cb(snapshot)
}

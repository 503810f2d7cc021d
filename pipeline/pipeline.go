// Package pipeline composes the scheduler, the tracker, and the result cache
// into a multi-step processing run. Each step executes under the tracker's
// step accounting, behind a per-step circuit breaker, with its result
// memoized in the cache when the step declares a cache key.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/appraisio/acore/cache"
	"github.com/appraisio/acore/ctxutil"
	"github.com/appraisio/acore/ecode"
	"github.com/appraisio/acore/logger"
	"github.com/appraisio/acore/scheduler"
	"github.com/appraisio/acore/store"
	"github.com/appraisio/acore/tracker"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

// StepContext carries state between the steps of one run. Steps read the
// results of their predecessors from Values and publish their own under
// their step name.
type StepContext struct {
	JobID         string
	UserID        string
	CorrelationID string
	Input         map[string]any
	Values        map[string]any
}

// Value returns a predecessor's published result.
func (sc *StepContext) Value(step tracker.Step) (any, bool) {
	v, ok := sc.Values[string(step)]
	return v, ok
}

// StepFunc is one pipeline step's work.
type StepFunc func(ctx context.Context, sc *StepContext) (any, error)

// StepSpec declares one step of a run.
type StepSpec struct {
	Step   tracker.Step
	Status tracker.Status // coarse status entered when this step starts
	Fn     StepFunc

	// CacheKey, when set, enables memoization: a hit skips the step and a
	// fresh result is stored under CacheNamespace.
	CacheNamespace string
	CacheKey       func(sc *StepContext) any
	CacheTTL       time.Duration
	CacheTags      []string
}

// Request describes one pipeline run.
type Request struct {
	UserID        string
	CorrelationID string
	Priority      scheduler.Priority
	Metadata      map[string]any
	Input         map[string]any
	Steps         []StepSpec
}

// SystemStatus aggregates the health of all components.
type SystemStatus struct {
	Scheduler scheduler.Stats    `json:"scheduler"`
	Tracker   tracker.Statistics `json:"tracker"`
	Cache     cache.Stats        `json:"cache"`
}

// Runner executes pipeline runs.
type Runner struct {
	sched     *scheduler.Scheduler
	trk       *tracker.Tracker
	results   *cache.Cache
	snapshots *store.Store[tracker.StatusInfo]
	breakers  map[string]*gobreaker.CircuitBreaker
	breakerMu sync.RWMutex
	log       *logger.Logger
}

// NewRunner creates a runner. snapshots may be nil when no Redis snapshot
// store is configured.
func NewRunner(sched *scheduler.Scheduler, trk *tracker.Tracker, results *cache.Cache, snapshots *store.Store[tracker.StatusInfo]) *Runner {
	r := &Runner{
		sched:     sched,
		trk:       trk,
		results:   results,
		snapshots: snapshots,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		log:       logger.StdLogger(),
	}
	for _, step := range tracker.DefaultSteps {
		r.breakers[string(step)] = newStepBreaker(string(step))
	}
	return r
}

func newStepBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})
}

// breaker returns the circuit breaker for a step, creating one on first use.
// Runs on worker goroutines, so the map is guarded.
func (r *Runner) breaker(step tracker.Step) *gobreaker.CircuitBreaker {
	name := string(step)

	r.breakerMu.RLock()
	cb, ok := r.breakers[name]
	r.breakerMu.RUnlock()
	if ok {
		return cb
	}

	r.breakerMu.Lock()
	defer r.breakerMu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = newStepBreaker(name)
	r.breakers[name] = cb
	return cb
}

// Run submits a pipeline run and returns its job id. The run executes
// asynchronously; poll the tracker or scheduler for progress.
func (r *Runner) Run(ctx context.Context, req Request) (string, error) {
	if len(req.Steps) == 0 {
		return "", ecode.Validation("pipeline run needs at least one step")
	}
	for _, spec := range req.Steps {
		if spec.Fn == nil {
			return "", ecode.Validation(fmt.Sprintf("step %s has no callable", spec.Step))
		}
	}

	// resolve the correlation id here so the scheduler result and the
	// tracker record carry the same one
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	opts := &scheduler.SubmitOptions{
		Priority:      req.Priority,
		Metadata:      req.Metadata,
		CorrelationID: correlationID,
		OnTerminal: func(res *scheduler.Result) {
			r.finalize(res)
		},
	}
	steps := req.Steps

	// the callable waits for the tracker record that only exists once
	// Submit has returned the job id
	ready := make(chan struct{})
	fn := func(jobCtx context.Context) (any, error) {
		select {
		case <-ready:
		case <-jobCtx.Done():
			return nil, jobCtx.Err()
		}
		return r.runSteps(jobCtx, scheduler.JobIDFromContext(jobCtx), req, steps)
	}

	id, err := r.sched.Submit(ctx, "pipeline", fn, opts)
	if err != nil {
		return "", err
	}
	r.trk.Create(id, req.UserID, correlationID)
	close(ready)

	r.log.Info(ctx, "pipeline run submitted",
		"job_id", id, "user_id", req.UserID, "steps", len(steps))
	return id, nil
}

// runSteps is the scheduler callable for one run.
func (r *Runner) runSteps(ctx context.Context, jobID string, req Request, steps []StepSpec) (any, error) {
	sc := &StepContext{
		JobID:         jobID,
		UserID:        req.UserID,
		CorrelationID: ctxutil.GetCorrelationID(ctx),
		Input:         req.Input,
		Values:        make(map[string]any, len(steps)),
	}

	total := len(steps)
	for i, spec := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if spec.Status != "" {
			r.trk.UpdateStatus(sc.JobID, spec.Status, spec.Step)
		}
		r.sched.UpdateProgress(sc.JobID, i, total, string(spec.Step), nil)

		value, err := r.runStep(ctx, sc, spec)
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", spec.Step, err)
		}
		sc.Values[string(spec.Step)] = value
	}

	r.trk.UpdateStatus(sc.JobID, tracker.StatusFinalizing, "")
	r.trk.Complete(sc.JobID, sc.Values)
	return sc.Values, nil
}

// runStep executes one step with memoization and breaker protection.
func (r *Runner) runStep(ctx context.Context, sc *StepContext, spec StepSpec) (any, error) {
	var keyData any
	if spec.CacheKey != nil && r.results != nil {
		keyData = spec.CacheKey(sc)
		if cached, ok := r.results.Get(spec.CacheNamespace, keyData); ok {
			r.trk.SkipStep(sc.JobID, spec.Step, cached)
			r.log.Debug(ctx, "step served from cache",
				"job_id", sc.JobID, "step", string(spec.Step))
			return cached, nil
		}
	}

	cb := r.breaker(spec.Step)
	value, err := r.trk.WithStep(sc.JobID, spec.Step, func() (any, error) {
		return cb.Execute(func() (any, error) {
			return spec.Fn(ctx, sc)
		})
	})
	if err != nil {
		return nil, err
	}

	if keyData != nil {
		_, putErr := r.results.Put(spec.CacheNamespace, keyData, value, &cache.PutOptions{
			TTL:  spec.CacheTTL,
			Tags: spec.CacheTags,
		})
		if putErr != nil {
			// memoization failure never fails the step
			r.log.Warn(ctx, "failed to cache step result",
				"job_id", sc.JobID, "step", string(spec.Step), "error", putErr.Error())
		}
	}
	return value, nil
}

// finalize mirrors the scheduler's terminal outcome into the tracker and,
// when configured, snapshots the tracker record to Redis.
func (r *Runner) finalize(res *scheduler.Result) {
	switch res.Status {
	case scheduler.StatusFailed:
		r.trk.Fail(res.JobID, res.Error, res.ErrorDetails)
	case scheduler.StatusCancelled:
		r.trk.Cancel(res.JobID)
	}

	if r.snapshots == nil {
		return
	}
	info, ok := r.trk.Get(res.JobID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.snapshots.Set(ctx, res.JobID, &info, 24*time.Hour); err != nil {
		r.log.Warn(ctx, "failed to snapshot job status",
			"job_id", res.JobID, "error", err.Error())
	}
}

// Status returns the combined scheduler and tracker view of one run.
func (r *Runner) Status(jobID string) (*scheduler.Result, tracker.StatusInfo, bool) {
	res := r.sched.GetStatus(jobID)
	info, ok := r.trk.Get(jobID)
	if res == nil && !ok {
		return nil, tracker.StatusInfo{}, false
	}
	return res, info, true
}

// Cancel cancels a running pipeline job.
func (r *Runner) Cancel(jobID string) bool {
	return r.sched.Cancel(jobID)
}

// SystemStatus reports aggregate component health.
func (r *Runner) SystemStatus() SystemStatus {
	return SystemStatus{
		Scheduler: r.sched.GetStats(),
		Tracker:   r.trk.GetStatistics(),
		Cache:     r.results.GetStats(),
	}
}

// RunCleanup prunes terminal scheduler results, old tracker records, and
// expired cache entries in one pass.
func (r *Runner) RunCleanup(maxAge time.Duration) (jobs, statuses, cacheEntries int) {
	jobs = r.sched.Cleanup(maxAge)
	statuses = r.trk.Cleanup(maxAge)
	cacheEntries = r.results.CleanupExpired()
	return jobs, statuses, cacheEntries
}

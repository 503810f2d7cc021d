package tracker

import (
	"time"
)

// Status is the coarse pipeline status of one appraisal job.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusValidating       Status = "validating"
	StatusUploading        Status = "uploading"
	StatusProcessingImage  Status = "processing_image"
	StatusAnalyzingAI      Status = "analyzing_ai"
	StatusSearchingMarket  Status = "searching_market"
	StatusCalculatingPrice Status = "calculating_price"
	StatusFinalizing       Status = "finalizing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Step identifies one stage of the processing pipeline.
type Step string

const (
	StepImageValidation     Step = "image_validation"
	StepImageUpload         Step = "image_upload"
	StepMetadataExtraction  Step = "metadata_extraction"
	StepVisionAnalysis      Step = "vision_analysis"
	StepEmbeddingGeneration Step = "embedding_generation"
	StepFeatureExtraction   Step = "feature_extraction"
	StepSimilaritySearch    Step = "similarity_search"
	StepMarketAnalysis      Step = "market_analysis"
	StepPriceCalculation    Step = "price_calculation"
	StepResultCompilation   Step = "result_compilation"
	StepDatabaseStorage     Step = "database_storage"
)

// DefaultSteps is the ordered default pipeline.
var DefaultSteps = []Step{
	StepImageValidation,
	StepImageUpload,
	StepMetadataExtraction,
	StepVisionAnalysis,
	StepEmbeddingGeneration,
	StepFeatureExtraction,
	StepSimilaritySearch,
	StepMarketAnalysis,
	StepPriceCalculation,
	StepResultCompilation,
	StepDatabaseStorage,
}

// StepStatus is the outcome of one step attempt.
type StepStatus string

const (
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult records one attempt at a pipeline step.
type StepResult struct {
	Step        Step           `json:"step"`
	Status      StepStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// complete closes the step attempt with either a result or an error.
func (sr *StepResult) complete(result any, err error) {
	now := time.Now()
	sr.CompletedAt = &now
	sr.Duration = now.Sub(sr.StartedAt)

	if err != nil {
		sr.Status = StepFailed
		sr.Error = err.Error()
	} else {
		sr.Status = StepSuccess
		sr.Result = result
	}
}

// StatusInfo is the complete state-machine record for one job.
type StatusInfo struct {
	JobID              string  `json:"job_id"`
	UserID             string  `json:"user_id,omitempty"`
	Status             Status  `json:"status"`
	CurrentStep        Step    `json:"current_step,omitempty"`
	ProgressPercentage float64 `json:"progress_percentage"`

	SubmittedAt           time.Time  `json:"submitted_at"`
	StartedProcessingAt   *time.Time `json:"started_processing_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletionAt *time.Time `json:"estimated_completion_at,omitempty"`

	Steps              []StepResult `json:"steps"`
	currentStepStarted *time.Time
	TotalSteps         int `json:"total_steps"`

	FinalResult  any            `json:"final_result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`

	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Duration returns total processing time so far, or through completion.
func (si *StatusInfo) Duration() time.Duration {
	if si.StartedProcessingAt == nil {
		return 0
	}
	if si.CompletedAt != nil {
		return si.CompletedAt.Sub(*si.StartedProcessingAt)
	}
	return time.Since(*si.StartedProcessingAt)
}

// successfulSteps counts step attempts that finished successfully.
func (si *StatusInfo) successfulSteps() int {
	count := 0
	for i := range si.Steps {
		if si.Steps[i].Status == StepSuccess {
			count++
		}
	}
	return count
}

// calculateProgress derives the progress percentage. A step in flight
// counts as half a step. Terminal states pin the value: 100 on COMPLETED,
// frozen at the last computed value on FAILED/CANCELLED.
func (si *StatusInfo) calculateProgress() float64 {
	if si.Status == StatusCompleted {
		return 100
	}
	if si.Status == StatusFailed || si.Status == StatusCancelled {
		return si.ProgressPercentage
	}
	if si.TotalSteps <= 0 {
		return 0
	}

	progress := float64(si.successfulSteps())
	if si.CurrentStep != "" && si.currentStepStarted != nil {
		progress += 0.5
	}

	pct := progress / float64(si.TotalSteps) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < si.ProgressPercentage {
		// progress never moves backward along the happy path
		return si.ProgressPercentage
	}
	return pct
}

// updateEstimatedCompletion extrapolates the mean duration of completed
// steps across the remaining step count. Advisory only.
func (si *StatusInfo) updateEstimatedCompletion() {
	if si.StartedProcessingAt == nil {
		return
	}

	completed := 0
	var total time.Duration
	for i := range si.Steps {
		if si.Steps[i].Status == StepSuccess {
			completed++
			total += si.Steps[i].Duration
		}
	}
	if completed == 0 {
		return
	}

	avg := total / time.Duration(completed)
	remaining := si.TotalSteps - completed
	if remaining < 0 {
		remaining = 0
	}

	eta := time.Now().Add(avg * time.Duration(remaining))
	si.EstimatedCompletionAt = &eta
}

// StepSummary aggregates step outcomes for reporting.
type StepSummary struct {
	TotalSteps      int          `json:"total_steps"`
	SuccessfulSteps int          `json:"successful_steps"`
	FailedSteps     int          `json:"failed_steps"`
	Steps           []StepResult `json:"steps"`
}

// Summary returns the step summary for this record.
func (si *StatusInfo) Summary() StepSummary {
	s := StepSummary{
		TotalSteps: len(si.Steps),
		Steps:      append([]StepResult(nil), si.Steps...),
	}
	for i := range si.Steps {
		switch si.Steps[i].Status {
		case StepSuccess:
			s.SuccessfulSteps++
		case StepFailed:
			s.FailedSteps++
		}
	}
	return s
}

// clone returns a deep-enough copy safe to hand to callers.
func (si *StatusInfo) clone() StatusInfo {
	cp := *si
	cp.Steps = append([]StepResult(nil), si.Steps...)
	return cp
}

package tracker

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	trk := New(nil)

	info := trk.Create("job-1", "user-1", "corr-1")
	if info.Status != StatusSubmitted {
		t.Errorf("expected submitted status, got %s", info.Status)
	}
	if info.TotalSteps != len(DefaultSteps) {
		t.Errorf("expected %d total steps, got %d", len(DefaultSteps), info.TotalSteps)
	}
	if info.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %s", info.CorrelationID)
	}

	got, ok := trk.Get("job-1")
	if !ok {
		t.Fatal("expected job to exist")
	}
	if got.JobID != "job-1" || got.UserID != "user-1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if _, ok := trk.Get("missing"); ok {
		t.Error("expected miss for unknown job")
	}
}

func TestCreateDefaultsCorrelationID(t *testing.T) {
	trk := New(nil)
	info := trk.Create("job-1", "", "")
	if info.CorrelationID == "" {
		t.Error("expected a generated correlation id")
	}
}

func TestUpdateStatus(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")

	if !trk.UpdateStatus("job-1", StatusValidating, StepImageValidation) {
		t.Fatal("expected update to succeed")
	}
	info, _ := trk.Get("job-1")
	if info.Status != StatusValidating {
		t.Errorf("expected validating, got %s", info.Status)
	}
	if info.CurrentStep != StepImageValidation {
		t.Errorf("expected current step set, got %s", info.CurrentStep)
	}
	if info.StartedProcessingAt == nil {
		t.Error("expected processing start timestamp")
	}

	if trk.UpdateStatus("missing", StatusValidating, "") {
		t.Error("expected update of unknown job to fail")
	}
}

func TestTerminalRecordsNeverReopen(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.Complete("job-1", nil)

	if trk.UpdateStatus("job-1", StatusValidating, "") {
		t.Error("expected update of completed job to fail")
	}
	if trk.Fail("job-1", "late failure", nil) {
		t.Error("expected fail of completed job to fail")
	}
	if trk.Cancel("job-1") {
		t.Error("expected cancel of completed job to fail")
	}
}

func TestWithStepSuccess(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.UpdateStatus("job-1", StatusValidating, StepImageValidation)

	result, err := trk.WithStep("job-1", StepImageValidation, func() (any, error) {
		return "validated", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "validated" {
		t.Errorf("expected validated, got %v", result)
	}

	info, _ := trk.Get("job-1")
	if len(info.Steps) != 1 {
		t.Fatalf("expected 1 step record, got %d", len(info.Steps))
	}
	step := info.Steps[0]
	if step.Status != StepSuccess {
		t.Errorf("expected success, got %s", step.Status)
	}
	if step.Result != "validated" {
		t.Errorf("expected result preserved, got %v", step.Result)
	}
	if step.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
}

func TestWithStepFailure(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")

	wantErr := errors.New("step blew up")
	_, err := trk.WithStep("job-1", StepVisionAnalysis, func() (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected original error returned, got %v", err)
	}

	info, _ := trk.Get("job-1")
	if len(info.Steps) != 1 {
		t.Fatalf("expected 1 step record, got %d", len(info.Steps))
	}
	if info.Steps[0].Status != StepFailed {
		t.Errorf("expected failed step, got %s", info.Steps[0].Status)
	}
	if info.Steps[0].Error != "step blew up" {
		t.Errorf("expected error message recorded, got %q", info.Steps[0].Error)
	}
}

func TestWithStepPanic(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected panic to propagate")
			}
		}()
		trk.WithStep("job-1", StepImageUpload, func() (any, error) {
			panic("upload exploded")
		})
	}()

	info, _ := trk.Get("job-1")
	if len(info.Steps) != 1 {
		t.Fatalf("expected 1 step record, got %d", len(info.Steps))
	}
	if info.Steps[0].Status != StepFailed {
		t.Errorf("expected failed step after panic, got %s", info.Steps[0].Status)
	}
}

func TestSkipStep(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")

	trk.SkipStep("job-1", StepVisionAnalysis, map[string]any{"cached": true})

	info, _ := trk.Get("job-1")
	if len(info.Steps) != 1 {
		t.Fatalf("expected 1 step record, got %d", len(info.Steps))
	}
	if info.Steps[0].Status != StepSkipped {
		t.Errorf("expected skipped, got %s", info.Steps[0].Status)
	}
}

func TestProgressMonotonicAndCompletesAt100(t *testing.T) {
	trk := New(&Config{TotalSteps: 3})
	trk.Create("job-1", "", "")

	last := 0.0
	steps := []Step{StepImageValidation, StepImageUpload, StepMetadataExtraction}
	for _, step := range steps {
		trk.UpdateStatus("job-1", StatusProcessingImage, step)
		info, _ := trk.Get("job-1")
		if info.ProgressPercentage < last {
			t.Errorf("progress moved backward: %v -> %v", last, info.ProgressPercentage)
		}
		last = info.ProgressPercentage

		trk.WithStep("job-1", step, func() (any, error) { return nil, nil })
		info, _ = trk.Get("job-1")
		if info.ProgressPercentage < last {
			t.Errorf("progress moved backward: %v -> %v", last, info.ProgressPercentage)
		}
		last = info.ProgressPercentage
	}

	trk.Complete("job-1", "final")
	info, _ := trk.Get("job-1")
	if info.ProgressPercentage != 100 {
		t.Errorf("expected exactly 100, got %v", info.ProgressPercentage)
	}
	if info.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", info.Status)
	}
	if info.FinalResult != "final" {
		t.Errorf("expected final result preserved, got %v", info.FinalResult)
	}
}

func TestProgressFrozenOnFailure(t *testing.T) {
	trk := New(&Config{TotalSteps: 4})
	trk.Create("job-1", "", "")

	trk.UpdateStatus("job-1", StatusValidating, StepImageValidation)
	trk.WithStep("job-1", StepImageValidation, func() (any, error) { return nil, nil })
	trk.WithStep("job-1", StepImageUpload, func() (any, error) { return nil, nil })

	before, _ := trk.Get("job-1")
	if before.ProgressPercentage <= 0 {
		t.Fatalf("expected some progress, got %v", before.ProgressPercentage)
	}

	trk.Fail("job-1", "analysis failed", map[string]any{"step": "vision"})
	after, _ := trk.Get("job-1")
	if after.Status != StatusFailed {
		t.Errorf("expected failed, got %s", after.Status)
	}
	if after.ProgressPercentage != before.ProgressPercentage {
		t.Errorf("expected progress frozen at %v, got %v",
			before.ProgressPercentage, after.ProgressPercentage)
	}
	if after.ErrorMessage != "analysis failed" {
		t.Errorf("expected error message recorded, got %q", after.ErrorMessage)
	}
	if after.CompletedAt == nil {
		t.Error("expected completion timestamp on failed job")
	}
}

func TestFailClosesRunningStep(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.startStep("job-1", StepVisionAnalysis)

	trk.Fail("job-1", "model unavailable", nil)

	info, _ := trk.Get("job-1")
	if len(info.Steps) != 1 {
		t.Fatalf("expected 1 step record, got %d", len(info.Steps))
	}
	if info.Steps[0].Status != StepFailed {
		t.Errorf("expected running step closed as failed, got %s", info.Steps[0].Status)
	}
}

func TestCancel(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.UpdateStatus("job-1", StatusAnalyzingAI, StepVisionAnalysis)

	if !trk.Cancel("job-1") {
		t.Fatal("expected cancel to succeed")
	}
	info, _ := trk.Get("job-1")
	if info.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", info.Status)
	}
	if trk.Cancel("job-1") {
		t.Error("expected second cancel to fail")
	}
}

func TestGetActiveAndGetUser(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "alice", "")
	trk.Create("job-2", "bob", "")
	trk.Create("job-3", "alice", "")
	trk.Complete("job-3", nil)

	active := trk.GetActive()
	if len(active) != 2 {
		t.Errorf("expected 2 active jobs, got %d", len(active))
	}

	alice := trk.GetUser("alice")
	if len(alice) != 2 {
		t.Errorf("expected 2 jobs for alice, got %d", len(alice))
	}
}

func TestStatistics(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.Create("job-2", "", "")
	trk.UpdateStatus("job-2", StatusValidating, StepImageValidation)
	trk.Complete("job-2", nil)

	stats := trk.GetStatistics()
	if stats.TotalJobs != 2 {
		t.Errorf("expected 2 total, got %d", stats.TotalJobs)
	}
	if stats.ActiveJobs != 1 {
		t.Errorf("expected 1 active, got %d", stats.ActiveJobs)
	}
	if stats.StatusCounts[StatusCompleted] != 1 {
		t.Errorf("expected 1 completed, got %d", stats.StatusCounts[StatusCompleted])
	}
}

func TestCleanup(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.Complete("job-1", nil)
	trk.Create("job-2", "", "")

	if removed := trk.Cleanup(time.Hour); removed != 0 {
		t.Errorf("expected 0 removed, got %d", removed)
	}
	if removed := trk.Cleanup(0); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := trk.Get("job-1"); ok {
		t.Error("expected completed job removed")
	}
	if _, ok := trk.Get("job-2"); !ok {
		t.Error("expected active job kept")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.WithStep("job-1", StepImageValidation, func() (any, error) { return nil, nil })

	info, _ := trk.Get("job-1")
	info.Status = StatusFailed
	info.Steps[0].Status = StepFailed

	fresh, _ := trk.Get("job-1")
	if fresh.Status == StatusFailed || fresh.Steps[0].Status == StepFailed {
		t.Error("mutating a returned record must not affect internal state")
	}
}

func TestSummary(t *testing.T) {
	trk := New(nil)
	trk.Create("job-1", "", "")
	trk.WithStep("job-1", StepImageValidation, func() (any, error) { return nil, nil })
	trk.WithStep("job-1", StepImageUpload, func() (any, error) { return nil, errors.New("nope") })

	info, _ := trk.Get("job-1")
	summary := info.Summary()
	if summary.TotalSteps != 2 || summary.SuccessfulSteps != 1 || summary.FailedSteps != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

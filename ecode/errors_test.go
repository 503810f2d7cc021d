package ecode

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestErrorCodeMatching(t *testing.T) {
	err := Timeout(time.Second)
	if !errors.Is(err, Timeout(time.Minute)) {
		t.Error("expected errors with the same code to match")
	}
	if errors.Is(err, Cancelled()) {
		t.Error("expected errors with different codes to not match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeExecution, "job execution failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected cause in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), CodeExecution) {
		t.Errorf("expected code in message, got %q", err.Error())
	}
}

func TestRetryExhaustedPreservesLastError(t *testing.T) {
	cause := errors.New("connection refused")
	err := RetryExhausted(3, cause)

	if !errors.Is(err, cause) {
		t.Error("expected last attempt's error preserved")
	}
	if err.Details["retries"] != 3 {
		t.Errorf("expected retries detail, got %v", err.Details)
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(Validation("bad input")); got != CodeValidation {
		t.Errorf("expected %s, got %s", CodeValidation, got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeExecution {
		t.Errorf("expected fallback %s, got %s", CodeExecution, got)
	}

	wrapped := RetryExhausted(2, Timeout(time.Second))
	if got := CodeOf(wrapped); got != CodeRetryExhausted {
		t.Errorf("expected outermost code, got %s", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := Validation("bad priority").WithDetails(map[string]any{"field": "priority"})
	if err.Details["field"] != "priority" {
		t.Errorf("expected detail attached, got %v", err.Details)
	}
}

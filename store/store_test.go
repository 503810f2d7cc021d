package store

import (
	"context"
	"testing"

	"github.com/appraisio/acore/config"
)

type snapshot struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func TestNilClientDegradesToNoOp(t *testing.T) {
	s := NewStore[snapshot](nil, "acore:jobs")
	ctx := context.Background()

	if err := s.Set(ctx, "job-1", &snapshot{JobID: "job-1", Status: "completed"}); err != nil {
		t.Errorf("expected nil-client set to no-op, got %v", err)
	}
	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Errorf("expected nil-client get to no-op, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil value from nil client, got %+v", got)
	}
	if err := s.Delete(ctx, "job-1"); err != nil {
		t.Errorf("expected nil-client delete to no-op, got %v", err)
	}
}

func TestConnectRejectsEmptyConfig(t *testing.T) {
	if _, err := Connect(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := Connect(&config.Redis{}); err == nil {
		t.Error("expected error for empty addr")
	}
}

func TestKeyPrefix(t *testing.T) {
	s := NewStore[snapshot](nil, "acore:jobs")
	if got := s.key("job-1"); got != "acore:jobs:job-1" {
		t.Errorf("unexpected key %s", got)
	}
}

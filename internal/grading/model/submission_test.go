package model

import (
	"testing"
	"time"
)

func TestSubmissionTransitions(t *testing.T) {
	now := time.Unix(100, 0)
	s := &Submission{ID: "s1", Status: StatusPending}
	if err := s.MarkRunning(now); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if s.Status != StatusRunning || s.StartedAt == nil {
		t.Fatalf("unexpected %+v", s)
	}

	s.Complete(42, now.Add(time.Second))
	if s.Score == nil || *s.Score != 42 || s.ErrorMessage != "" {
		t.Fatalf("score not set: %+v", s)
	}
	if err := s.MarkRunning(now); err == nil {
		t.Fatalf("terminal submission went back to running")
	}

	clone := s.Clone()
	*clone.Score = 1
	if *s.Score != 42 {
		t.Fatalf("clone shares score")
	}
}

func TestFailClearsScore(t *testing.T) {
	s := &Submission{ID: "s1"}
	s.Complete(3, time.Now())
	s.Fail(StatusTimeout, "Execution timed out", time.Now())
	if s.Score != nil || s.Status != StatusTimeout || s.ErrorMessage == "" {
		t.Fatalf("unexpected %+v", s)
	}
	if !s.Status.Terminal() || StatusRunning.Terminal() {
		t.Fatalf("terminal check wrong")
	}
	if Status("weird").Valid() {
		t.Fatalf("unknown status accepted")
	}
}

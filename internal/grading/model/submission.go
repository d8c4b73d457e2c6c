// Package model holds the grading data shared by the repositories, the
// worker and the HTTP layer.
package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Submission is one graded attempt at a maze.
type Submission struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	MazeID        string     `json:"maze_id"`
	Status        Status     `json:"status"`
	Score         *int       `json:"score,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CodeKey       string     `json:"-"`
	TranscriptKey string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	if s.Score != nil {
		v := *s.Score
		out.Score = &v
	}
	if s.StartedAt != nil {
		v := *s.StartedAt
		out.StartedAt = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		out.CompletedAt = &v
	}
	return &out
}

// MarkRunning moves a pending submission to running.
func (s *Submission) MarkRunning(at time.Time) error {
	if s.Status.Terminal() {
		return fmt.Errorf("submission %s already %s", s.ID, s.Status)
	}
	s.Status = StatusRunning
	s.StartedAt = &at
	return nil
}

// Complete records a successful escape with turns as the score.
func (s *Submission) Complete(turns int, at time.Time) {
	s.Status = StatusCompleted
	s.Score = &turns
	s.ErrorMessage = ""
	s.CompletedAt = &at
}

// Fail records a terminal failure. status must be failed or timeout.
func (s *Submission) Fail(status Status, message string, at time.Time) {
	s.Status = status
	s.Score = nil
	s.ErrorMessage = message
	s.CompletedAt = &at
}

// CodeKey is the object key of a submission's code artifact.
func CodeKey(submissionID string) string {
	return "code/" + submissionID + ".py"
}

// TranscriptKey is the object key of a submission's execution transcript.
func TranscriptKey(submissionID string) string {
	return "transcripts/" + submissionID + ".json.zst"
}

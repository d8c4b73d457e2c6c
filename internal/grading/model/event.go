package model

import "labyrinth/internal/sandbox"

// StatusEventFinal marks the event published once a submission is terminal.
const StatusEventFinal = "final"

// StatusEvent is published to the status topic.
type StatusEvent struct {
	Type       string     `json:"type"`
	Submission Submission `json:"submission"`
	CreatedAt  int64      `json:"created_at"`
}

// IntakeMessage asks the grader to pick up a pending submission created elsewhere.
type IntakeMessage struct {
	SubmissionID string `json:"submission_id"`
}

// Transcript is the archived record of one execution. Stderr is kept for
// operators only.
type Transcript struct {
	SubmissionID string         `json:"submission_id"`
	SessionID    string         `json:"session_id"`
	Provider     string         `json:"provider"`
	Result       sandbox.Result `json:"result"`
	Stderr       string         `json:"stderr,omitempty"`
	Findings     []string       `json:"filesystem_findings,omitempty"`
}

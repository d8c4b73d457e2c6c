package service

import (
	"context"
	"time"

	"labyrinth/internal/grading/model"
	"labyrinth/internal/grading/repository"
	"labyrinth/internal/maze"
)

// SubmissionStore persists submissions.
type SubmissionStore interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	MarkRunning(ctx context.Context, submissionID string, startedAt time.Time) error
	Finalize(ctx context.Context, sub *model.Submission) error
}

// MazeStore resolves maze definitions.
type MazeStore interface {
	Get(ctx context.Context, id string) (*maze.Definition, error)
	List(ctx context.Context) ([]maze.Info, error)
}

// ArtifactStore keeps code and transcripts.
type ArtifactStore interface {
	PutCode(ctx context.Context, key, code string) error
	GetCode(ctx context.Context, key string) (string, error)
	RemoveCode(ctx context.Context, key string) error
	PutTranscript(ctx context.Context, key string, transcript *model.Transcript) error
}

// StatusStore caches the latest status of each submission.
type StatusStore interface {
	Get(ctx context.Context, submissionID string) (*model.Submission, error)
	Save(ctx context.Context, sub *model.Submission) error
}

// SessionEngine opens and closes maze sessions for grading.
type SessionEngine interface {
	CreateSession(def *maze.Definition, userID string) (maze.State, error)
	CloseSession(sessionID string) (maze.State, error)
}

// Recorder receives grading metrics.
type Recorder interface {
	SubmissionFinished(status model.Status)
	ValidationRejected()
	EscapeFindings(n int)
	SandboxExecuted(provider, outcome string, elapsed time.Duration)
	QueueDepth(pending, processing int)
}

type nopRecorder struct{}

func (nopRecorder) SubmissionFinished(model.Status)               {}
func (nopRecorder) ValidationRejected()                           {}
func (nopRecorder) EscapeFindings(int)                            {}
func (nopRecorder) SandboxExecuted(string, string, time.Duration) {}
func (nopRecorder) QueueDepth(int, int)                           {}

var (
	_ SubmissionStore = (*repository.MySQLSubmissionRepository)(nil)
	_ MazeStore       = (*repository.MazeRepository)(nil)
	_ ArtifactStore   = (*repository.ArtifactRepository)(nil)
	_ StatusStore     = (*repository.StatusRepository)(nil)
	_ SessionEngine   = (*maze.Engine)(nil)
)

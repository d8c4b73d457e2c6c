package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"labyrinth/internal/common/db"
	"labyrinth/internal/grading/model"
	appErr "labyrinth/pkg/errors"
)

// SubmissionRepository defines submission persistence.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, submissionID string) (*model.Submission, error)
	MarkRunning(ctx context.Context, submissionID string, startedAt time.Time) error
	Finalize(ctx context.Context, sub *model.Submission) error
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "submission_id, user_id, maze_id, status, score, error_message, code_key, transcript_key, created_at, started_at, completed_at"

// Create inserts a pending submission.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	if sub == nil {
		return errors.New("submission is nil")
	}
	if sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if sub.MazeID == "" {
		return appErr.ValidationError("maze_id", "required")
	}
	if sub.CodeKey == "" {
		return appErr.ValidationError("code_key", "required")
	}
	if sub.Status == "" {
		sub.Status = model.StatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO submissions
		(submission_id, user_id, maze_id, status, code_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(ctx, query, sub.ID, sub.UserID, sub.MazeID, string(sub.Status), sub.CodeKey, sub.CreatedAt)
	if err != nil {
		if _, dup := db.UniqueViolation(err); dup {
			return appErr.Wrap(err, appErr.RecordAlreadyExists)
		}
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert submission failed")
	}
	return nil
}

// GetByID loads a submission.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := r.db.QueryRow(ctx, query, submissionID)

	sub := &model.Submission{}
	var (
		status        string
		score         sql.NullInt64
		errorMessage  sql.NullString
		transcriptKey sql.NullString
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)
	if err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.MazeID,
		&status,
		&score,
		&errorMessage,
		&sub.CodeKey,
		&transcriptKey,
		&sub.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	sub.Status = model.Status(status)
	if score.Valid {
		v := int(score.Int64)
		sub.Score = &v
	}
	sub.ErrorMessage = errorMessage.String
	sub.TranscriptKey = transcriptKey.String
	if startedAt.Valid {
		sub.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sub.CompletedAt = &completedAt.Time
	}
	return sub, nil
}

// MarkRunning stamps started_at. A terminal submission is left untouched.
func (r *MySQLSubmissionRepository) MarkRunning(ctx context.Context, submissionID string, startedAt time.Time) error {
	query := `
		UPDATE submissions SET status = ?, started_at = ?
		WHERE submission_id = ? AND status IN (?, ?)
	`
	res, err := r.db.Exec(ctx, query, string(model.StatusRunning), startedAt, submissionID,
		string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark submission running failed")
	}
	return expectOneRow(res, submissionID)
}

// Finalize commits the terminal state. It fails with SubmissionFinalized when
// the submission already reached a terminal state.
func (r *MySQLSubmissionRepository) Finalize(ctx context.Context, sub *model.Submission) error {
	if sub == nil || !sub.Status.Terminal() {
		return appErr.New(appErr.InvalidParams).WithMessage("finalize needs a terminal status")
	}
	var score any
	if sub.Score != nil {
		score = *sub.Score
	}
	var transcriptKey any
	if sub.TranscriptKey != "" {
		transcriptKey = sub.TranscriptKey
	}
	query := `
		UPDATE submissions
		SET status = ?, score = ?, error_message = ?, transcript_key = ?, completed_at = ?
		WHERE submission_id = ? AND status IN (?, ?)
	`
	res, err := r.db.Exec(ctx, query,
		string(sub.Status), score, sub.ErrorMessage, transcriptKey, sub.CompletedAt,
		sub.ID, string(model.StatusPending), string(model.StatusRunning))
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "finalize submission failed")
	}
	return expectOneRow(res, sub.ID)
}

func expectOneRow(res db.Result, submissionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read affected rows failed")
	}
	if n == 0 {
		return appErr.New(appErr.SubmissionFinalized).WithDetail("submission_id", submissionID)
	}
	return nil
}

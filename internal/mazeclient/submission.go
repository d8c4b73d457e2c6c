package mazeclient

import (
	"context"
	"net/http"
	"time"

	"labyrinth/internal/validator"
)

// Submission is the facade's view of a graded or queued submission.
type Submission struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	MazeID       string     `json:"maze_id"`
	Status       string     `json:"status"`
	Score        *int       `json:"score,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether grading has finished.
func (s Submission) Terminal() bool {
	switch s.Status {
	case "completed", "failed", "timeout":
		return true
	}
	return false
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Submit queues code for grading on mazeID.
func (c *Client) Submit(ctx context.Context, mazeID, code string) (Receipt, error) {
	var out Receipt
	body := map[string]string{"maze_id": mazeID, "code": code}
	err := c.do(ctx, http.MethodPost, "/v1/submit", body, &out, true)
	return out, err
}

// Submission returns the current status of a submission.
func (c *Client) Submission(ctx context.Context, id string) (Submission, error) {
	var out Submission
	err := c.do(ctx, http.MethodGet, "/v1/submission/"+id, nil, &out, true)
	return out, err
}

// Validate runs the facade's static checks on code without submitting it.
func (c *Client) Validate(ctx context.Context, code string) (validator.Result, error) {
	var out validator.Result
	err := c.do(ctx, http.MethodPost, "/v1/validate", map[string]string{"code": code}, &out, true)
	return out, err
}

// WaitSubmission polls until the submission is terminal or ctx is done.
func (c *Client) WaitSubmission(ctx context.Context, id string, interval time.Duration) (Submission, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sub, err := c.Submission(ctx, id)
		if err != nil || sub.Terminal() {
			return sub, err
		}
		select {
		case <-ctx.Done():
			return sub, ctx.Err()
		case <-ticker.C:
		}
	}
}

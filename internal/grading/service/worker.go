package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labyrinth/internal/grading/model"
	"labyrinth/internal/grading/repository"
	"labyrinth/internal/maze"
	"labyrinth/internal/sandbox"
	"labyrinth/internal/validator"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	msgMazeNotFound       = "Maze not found"
	msgCodeNotFound       = "Code file not found"
	msgTimedOut           = "Execution timed out"
	msgNotCompleted       = "Maze not completed"
	msgExecutionFailed    = "Execution failed"
	msgSessionFailed      = "Failed to start maze session"
	msgGradingInterrupted = "Grading interrupted by shutdown"
)

// Deps are the collaborators a worker grades with. Status, Events and
// Recorder are optional.
type Deps struct {
	Submissions SubmissionStore
	Mazes       MazeStore
	Artifacts   ArtifactStore
	Status      StatusStore
	Events      repository.StatusEventPublisher
	Engine      SessionEngine
	Provider    sandbox.Provider
	Validator   *validator.Validator
	Recorder    Recorder
}

func (d *Deps) setDefaults() {
	if d.Validator == nil {
		d.Validator = validator.New()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Events == nil {
		d.Events = repository.NopStatusEventPublisher{}
	}
}

// WorkerConfig controls how submissions are executed.
type WorkerConfig struct {
	CallbackURL string
	Limits      sandbox.Limits
	// PersistTimeout bounds each write of the final status.
	PersistTimeout time.Duration
	// OnSessionClosed runs after a grading session is closed.
	OnSessionClosed func(sessionID string)
}

// Worker takes submissions off the queue and grades them one at a time.
type Worker struct {
	id    int
	queue *Queue
	deps  Deps
	cfg   WorkerConfig
	now   func() time.Time
}

// NewWorker creates a worker reading from queue.
func NewWorker(id int, queue *Queue, deps Deps, cfg WorkerConfig) *Worker {
	deps.setDefaults()
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Worker{id: id, queue: queue, deps: deps, cfg: cfg, now: time.Now}
}

// Run grades submissions until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info(ctx, "grading worker started", zap.Int("worker", w.id))
	defer logger.Info(ctx, "grading worker stopped", zap.Int("worker", w.id))
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || appErr.Is(err, appErr.GradingQueueClosed) {
				return nil
			}
			return err
		}
		w.Process(ctx, id)
	}
}

// Process grades one dequeued submission. It always releases the processing
// slot and never panics.
func (w *Worker) Process(ctx context.Context, submissionID string) {
	ctx = logger.WithSubmission(ctx, submissionID)
	defer func() {
		w.queue.Complete(submissionID)
		w.deps.Recorder.QueueDepth(w.queue.PendingCount(), w.queue.ProcessingCount())
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "grading panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	w.deps.Recorder.QueueDepth(w.queue.PendingCount(), w.queue.ProcessingCount())

	if err := w.grade(ctx, submissionID); err != nil {
		logger.Warn(ctx, "grading failed", zap.Int("worker", w.id), zap.Error(err))
	}
}

func (w *Worker) grade(ctx context.Context, submissionID string) error {
	sub, err := w.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub.Status.Terminal() {
		logger.Info(ctx, "submission already graded", zap.String("status", string(sub.Status)))
		return nil
	}

	if err := sub.MarkRunning(w.now()); err != nil {
		return err
	}
	if err := w.deps.Submissions.MarkRunning(ctx, sub.ID, *sub.StartedAt); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	w.cacheStatus(ctx, sub)

	def, err := w.deps.Mazes.Get(ctx, sub.MazeID)
	if err != nil {
		logger.Warn(ctx, "maze unavailable for submission", zap.String("maze_id", sub.MazeID), zap.Error(err))
		return w.finish(ctx, sub, model.StatusFailed, msgMazeNotFound, nil)
	}

	code, err := w.deps.Artifacts.GetCode(ctx, sub.CodeKey)
	if err != nil {
		logger.Warn(ctx, "code artifact unavailable", zap.String("code_key", sub.CodeKey), zap.Error(err))
		return w.finish(ctx, sub, model.StatusFailed, msgCodeNotFound, nil)
	}

	check := w.deps.Validator.ValidateContext(ctx, code)
	if !check.IsValid {
		w.deps.Recorder.ValidationRejected()
		return w.finish(ctx, sub, model.StatusFailed, check.ErrorSummary(), nil)
	}
	findings := validator.CheckFilesystemEscape(code)
	if len(findings) > 0 {
		w.deps.Recorder.EscapeFindings(len(findings))
		logger.Warn(ctx, "possible filesystem escape attempt", zap.Strings("findings", findings))
	}

	st, err := w.deps.Engine.CreateSession(def, sub.UserID)
	if err != nil {
		logger.Error(ctx, "create maze session failed", zap.Error(err))
		return w.finish(ctx, sub, model.StatusFailed, msgSessionFailed, nil)
	}
	ctx = logger.WithSession(ctx, st.SessionID)
	closed := false
	defer func() {
		if !closed {
			w.closeSession(ctx, st.SessionID)
		}
	}()

	req := sandbox.Request{
		Code:          code,
		SessionID:     st.SessionID,
		CallbackURL:   w.cfg.CallbackURL,
		CallbackToken: st.CallbackToken,
		Limits:        w.cfg.Limits,
	}
	res, err := w.deps.Provider.Execute(ctx, req)
	final, ok := w.closeSession(ctx, st.SessionID)
	closed = true

	outcome := outcomeOf(res, err, final)
	w.deps.Recorder.SandboxExecuted(w.deps.Provider.Name(), outcome, res.Duration)
	logger.Info(ctx, "execution finished",
		zap.String("provider", w.deps.Provider.Name()),
		zap.String("outcome", outcome),
		zap.Int("turns", final.Turns),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration),
	)
	if ok && (res.Completed != final.Completed || res.Turns != final.Turns) {
		logger.Warn(ctx, "sandbox report disagrees with session",
			zap.Int("reported_turns", res.Turns),
			zap.Bool("reported_completed", res.Completed),
			zap.Int("session_turns", final.Turns),
			zap.Bool("session_completed", final.Completed),
		)
	}

	transcript := &model.Transcript{
		SubmissionID: sub.ID,
		SessionID:    st.SessionID,
		Provider:     w.deps.Provider.Name(),
		Result:       res,
		Stderr:       res.Stderr,
		Findings:     findings,
	}

	if ctx.Err() != nil && (err != nil || !res.Success) {
		return w.finish(ctx, sub, model.StatusFailed, msgGradingInterrupted, transcript)
	}
	if err != nil {
		logger.Error(ctx, "sandbox execution error", zap.Error(err))
		return w.finish(ctx, sub, model.StatusFailed, msgExecutionFailed, transcript)
	}

	// Verdict and score come from the engine session, never from the sandbox report.
	switch {
	case res.TimedOut:
		return w.finish(ctx, sub, model.StatusTimeout, msgTimedOut, transcript)
	case res.Success && final.Completed:
		sub.Complete(final.Turns, w.now())
		return w.commit(ctx, sub, transcript)
	case res.Success:
		return w.finish(ctx, sub, model.StatusFailed, msgNotCompleted, transcript)
	default:
		msg := res.Error
		if msg == "" {
			msg = msgExecutionFailed
		}
		return w.finish(ctx, sub, model.StatusFailed, msg, transcript)
	}
}

// finish records a failed or timed out submission.
func (w *Worker) finish(ctx context.Context, sub *model.Submission, status model.Status, msg string, transcript *model.Transcript) error {
	sub.Fail(status, msg, w.now())
	return w.commit(ctx, sub, transcript)
}

// commit persists the terminal state. It runs to completion even when ctx
// was cancelled so an interrupted submission does not stay running.
func (w *Worker) commit(ctx context.Context, sub *model.Submission, transcript *model.Transcript) error {
	ctx = context.WithoutCancel(ctx)

	if transcript != nil {
		key := model.TranscriptKey(sub.ID)
		err := w.withTimeout(ctx, func(ctx context.Context) error {
			return w.deps.Artifacts.PutTranscript(ctx, key, transcript)
		})
		if err != nil {
			logger.Warn(ctx, "archive transcript failed", zap.Error(err))
		} else {
			sub.TranscriptKey = key
		}
	}

	err := w.withTimeout(ctx, func(ctx context.Context) error {
		return w.deps.Submissions.Finalize(ctx, sub)
	})
	if err != nil {
		if appErr.Is(err, appErr.SubmissionFinalized) {
			logger.Warn(ctx, "submission finalized elsewhere", zap.Error(err))
			return nil
		}
		return fmt.Errorf("finalize submission: %w", err)
	}
	w.deps.Recorder.SubmissionFinished(sub.Status)
	w.cacheStatus(ctx, sub)

	err = w.withTimeout(ctx, func(ctx context.Context) error {
		return w.deps.Events.PublishFinalStatus(ctx, sub)
	})
	if err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
	}

	fields := []zap.Field{zap.String("status", string(sub.Status))}
	if sub.Score != nil {
		fields = append(fields, zap.Int("score", *sub.Score))
	}
	if sub.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", sub.ErrorMessage))
	}
	logger.Info(ctx, "submission graded", fields...)
	return nil
}

func (w *Worker) cacheStatus(ctx context.Context, sub *model.Submission) {
	if w.deps.Status == nil {
		return
	}
	snapshot := sub.Clone()
	err := w.withTimeout(ctx, func(ctx context.Context) error {
		return w.deps.Status.Save(ctx, snapshot)
	})
	if err != nil {
		logger.Warn(ctx, "cache submission status failed", zap.Error(err))
	}
}

// closeSession ends the grading session and returns its final state. ok is
// false when the session was already gone, e.g. evicted by the janitor.
func (w *Worker) closeSession(ctx context.Context, sessionID string) (final maze.State, ok bool) {
	final, err := w.deps.Engine.CloseSession(sessionID)
	if err != nil && !appErr.Is(err, appErr.MazeSessionNotFound) {
		logger.Warn(ctx, "close maze session failed", zap.Error(err))
	}
	if w.cfg.OnSessionClosed != nil {
		w.cfg.OnSessionClosed(sessionID)
	}
	return final, err == nil
}

func (w *Worker) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.PersistTimeout)
	defer cancel()
	return fn(ctx)
}

func outcomeOf(res sandbox.Result, err error, final maze.State) string {
	switch {
	case err != nil:
		return "error"
	case res.TimedOut:
		return "timeout"
	case res.OOMKilled:
		return "oom"
	case res.Success && final.Completed:
		return "completed"
	case res.Success:
		return "incomplete"
	default:
		return "failed"
	}
}

package service

import (
	"context"
	"time"

	"labyrinth/internal/common/cache"
	"labyrinth/internal/grading/model"
	"labyrinth/internal/maze"
	"labyrinth/internal/validator"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const submitRateKeyPrefix = "grading:submit:"

// maxSubmitBytes rejects bodies far beyond the validator's limit before parsing them.
const maxSubmitBytes = 4 * validator.MaxCodeLength

// Config controls admission.
type Config struct {
	SubmitLimit  int
	SubmitWindow time.Duration
}

// Service admits submissions and answers status queries.
type Service struct {
	queue   *Queue
	deps    Deps
	limiter *cache.FixedWindowLimiter
	cfg     Config
	newID   func() string
	now     func() time.Time
}

// NewService creates a service. limiter may be nil to disable submit limits.
func NewService(queue *Queue, deps Deps, limiter *cache.FixedWindowLimiter, cfg Config) *Service {
	deps.setDefaults()
	if cfg.SubmitWindow <= 0 {
		cfg.SubmitWindow = time.Minute
	}
	return &Service{
		queue:   queue,
		deps:    deps,
		limiter: limiter,
		cfg:     cfg,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Validate runs the static checks without storing anything.
func (s *Service) Validate(ctx context.Context, code string) validator.Result {
	return s.deps.Validator.ValidateContext(ctx, code)
}

// Submit validates code, stores it and queues a pending submission.
func (s *Service) Submit(ctx context.Context, userID, mazeID, code string) (*model.Submission, error) {
	if mazeID == "" {
		return nil, appErr.ValidationError("maze_id", "required")
	}
	if code == "" {
		return nil, appErr.ValidationError("code", "required")
	}
	if len(code) > maxSubmitBytes {
		return nil, appErr.New(appErr.CodeTooLarge).WithDetail("max_length", validator.MaxCodeLength)
	}
	if err := s.allowSubmit(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := s.deps.Mazes.Get(ctx, mazeID); err != nil {
		return nil, err
	}

	check := s.deps.Validator.ValidateContext(ctx, code)
	if !check.IsValid {
		s.deps.Recorder.ValidationRejected()
		return nil, appErr.New(appErr.CodeValidationFailed).
			WithDetail("errors", check.Errors).
			WithDetail("warnings", check.Warnings)
	}

	sub := &model.Submission{
		ID:        s.newID(),
		UserID:    userID,
		MazeID:    mazeID,
		Status:    model.StatusPending,
		CreatedAt: s.now(),
	}
	sub.CodeKey = model.CodeKey(sub.ID)
	ctx = logger.WithSubmission(ctx, sub.ID)

	if err := s.deps.Artifacts.PutCode(ctx, sub.CodeKey, code); err != nil {
		return nil, err
	}
	if err := s.deps.Submissions.Create(ctx, sub); err != nil {
		if rmErr := s.deps.Artifacts.RemoveCode(ctx, sub.CodeKey); rmErr != nil {
			logger.Warn(ctx, "remove orphaned code failed", zap.String("key", sub.CodeKey), zap.Error(rmErr))
		}
		return nil, err
	}
	if s.deps.Status != nil {
		if err := s.deps.Status.Save(ctx, sub.Clone()); err != nil {
			logger.Warn(ctx, "cache pending status failed", zap.Error(err))
		}
	}
	s.queue.Enqueue(sub.ID)
	s.deps.Recorder.QueueDepth(s.queue.PendingCount(), s.queue.ProcessingCount())
	logger.Info(ctx, "submission queued", zap.String("maze_id", mazeID), zap.Int("code_length", len(code)))
	return sub, nil
}

// Get returns the latest known state of a submission.
func (s *Service) Get(ctx context.Context, submissionID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if s.deps.Status != nil {
		sub, err := s.deps.Status.Get(ctx, submissionID)
		if err == nil {
			return sub, nil
		}
		if !appErr.Is(err, appErr.CacheMiss) {
			logger.Warn(ctx, "read status cache failed", zap.Error(err))
		}
	}
	sub, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if s.deps.Status != nil {
		if err := s.deps.Status.Save(ctx, sub.Clone()); err != nil {
			logger.Warn(ctx, "refill status cache failed", zap.Error(err))
		}
	}
	return sub, nil
}

// Enqueue queues an existing submission that is not yet graded. It reports
// whether the id was added.
func (s *Service) Enqueue(ctx context.Context, submissionID string) (bool, error) {
	sub, err := s.deps.Submissions.GetByID(ctx, submissionID)
	if err != nil {
		return false, err
	}
	if sub.Status.Terminal() {
		return false, nil
	}
	added := s.queue.Enqueue(sub.ID)
	s.deps.Recorder.QueueDepth(s.queue.PendingCount(), s.queue.ProcessingCount())
	return added, nil
}

// Mazes lists the playable mazes.
func (s *Service) Mazes(ctx context.Context) ([]maze.Info, error) {
	return s.deps.Mazes.List(ctx)
}

// Maze returns one playable maze.
func (s *Service) Maze(ctx context.Context, id string) (*maze.Definition, error) {
	return s.deps.Mazes.Get(ctx, id)
}

// QueueStats returns the pending and processing counts.
func (s *Service) QueueStats() (pending, processing int) {
	return s.queue.PendingCount(), s.queue.ProcessingCount()
}

func (s *Service) allowSubmit(ctx context.Context, userID string) error {
	if s.limiter == nil || s.cfg.SubmitLimit <= 0 {
		return nil
	}
	key := submitRateKeyPrefix + userID
	if userID == "" {
		key = submitRateKeyPrefix + "anonymous"
	}
	err := s.limiter.Allow(ctx, key, s.cfg.SubmitLimit, s.cfg.SubmitWindow)
	switch {
	case err == nil:
		return nil
	case appErr.Is(err, appErr.TooManyRequests):
		return appErr.New(appErr.SubmitTooFrequently)
	default:
		logger.Warn(ctx, "submit rate limit unavailable", zap.Error(err))
		return nil
	}
}

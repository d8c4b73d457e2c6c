package service

import (
	"context"
	"encoding/json"

	"labyrinth/internal/common/mq"
	"labyrinth/internal/grading/model"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/logger"

	"go.uber.org/zap"
)

// IntakeHandler enqueues submissions announced on the intake topic.
type IntakeHandler struct {
	svc *Service
}

// NewIntakeHandler creates a handler feeding svc.
func NewIntakeHandler(svc *Service) *IntakeHandler {
	return &IntakeHandler{svc: svc}
}

// HandleMessage implements mq.HandlerFunc. Malformed messages and unknown
// submissions are dropped; storage errors are returned for redelivery.
func (h *IntakeHandler) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	var in model.IntakeMessage
	if err := json.Unmarshal(msg.Body, &in); err != nil || in.SubmissionID == "" {
		logger.Warn(ctx, "drop malformed intake message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = logger.WithSubmission(ctx, in.SubmissionID)
	added, err := h.svc.Enqueue(ctx, in.SubmissionID)
	if err != nil {
		if appErr.Is(err, appErr.SubmissionNotFound) {
			logger.Warn(ctx, "drop intake for unknown submission")
			return nil
		}
		return err
	}
	if added {
		logger.Info(ctx, "submission received from intake")
	}
	return nil
}

var _ mq.HandlerFunc = (*IntakeHandler)(nil).HandleMessage

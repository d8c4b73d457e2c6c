package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"labyrinth/internal/common/mq"
	"labyrinth/internal/grading/model"
	appErr "labyrinth/pkg/errors"
)

// StatusEventPublisher announces terminal submission states.
type StatusEventPublisher interface {
	PublishFinalStatus(ctx context.Context, sub *model.Submission) error
}

// MQStatusEventPublisher publishes status events to a message queue.
type MQStatusEventPublisher struct {
	queue mq.Producer
	topic string
	now   func() time.Time
}

// NewMQStatusEventPublisher creates a new MQ status event publisher.
func NewMQStatusEventPublisher(queue mq.Producer, topic string) *MQStatusEventPublisher {
	return &MQStatusEventPublisher{queue: queue, topic: topic, now: time.Now}
}

// PublishFinalStatus publishes a final status event keyed by submission id.
func (p *MQStatusEventPublisher) PublishFinalStatus(ctx context.Context, sub *model.Submission) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("status publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("status topic is required")
	}
	if sub == nil || sub.ID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := model.StatusEvent{
		Type:       model.StatusEventFinal,
		Submission: *sub,
		CreatedAt:  p.now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event failed: %w", err)
	}
	message := mq.NewMessage(sub.ID, payload)
	message.Headers["status"] = string(sub.Status)
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish status event failed")
	}
	return nil
}

// NopStatusEventPublisher drops events when no broker is configured.
type NopStatusEventPublisher struct{}

func (NopStatusEventPublisher) PublishFinalStatus(context.Context, *model.Submission) error {
	return nil
}

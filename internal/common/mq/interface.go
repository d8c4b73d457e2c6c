// Package mq carries grading events over Kafka: submission intake in, final
// statuses out.
package mq

import (
	"context"
	"time"
)

// Producer publishes messages to a topic.
type Producer interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Message is one queue record. ID doubles as the Kafka partition key.
type Message struct {
	ID      string
	Body    []byte
	Headers map[string]string

	Timestamp  time.Time
	RetryCount int
	MaxRetries int

	// Expiration drops the message unhandled once it is older than this.
	Expiration time.Duration
}

// HandlerFunc handles one message; an error triggers a retry.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	// Default: "labyrinth-<topic>"
	ConsumerGroup string

	// Default: 1
	Concurrency int

	// Default: 3
	MaxRetries int

	// Default: 1 second
	RetryDelay time.Duration

	// DeadLetterTopic receives messages that exhausted their retries.
	DeadLetterTopic string
}

func (o *SubscribeOptions) setDefaults(topic string) {
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "labyrinth-" + topic
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = time.Second
	}
}

// NewMessage creates a message with the given id and body.
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:         id,
		Body:       body,
		Headers:    make(map[string]string),
		Timestamp:  time.Now(),
		MaxRetries: 3,
	}
}

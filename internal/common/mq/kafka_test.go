package mq

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestKafkaHeadersCarryMetadata(t *testing.T) {
	msg := NewMessage("sub-1", []byte(`{"submission_id":"sub-1"}`))
	msg.Headers["trace_id"] = "t-1"
	msg.RetryCount = 2
	msg.Expiration = 90 * time.Second

	km := toKafkaMessage("submissions", msg)
	if km.Topic != "submissions" || string(km.Key) != "sub-1" {
		t.Fatalf("topic/key = %s/%s", km.Topic, km.Key)
	}

	got := fromKafkaMessage(km)
	if got.ID != "sub-1" || got.RetryCount != 2 || got.MaxRetries != 3 || got.Expiration != 90*time.Second {
		t.Fatalf("metadata lost: %+v", got)
	}
	if got.Headers["trace_id"] != "t-1" {
		t.Fatalf("headers = %v", got.Headers)
	}
	if _, ok := got.Headers[headerID]; ok {
		t.Fatalf("reserved header leaked into user headers")
	}
}

func TestFromKafkaMessageFallsBackToKey(t *testing.T) {
	m := fromKafkaMessage(kafka.Message{Key: []byte("k1"), Value: []byte("v")})
	if m.ID != "k1" || string(m.Body) != "v" {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestNewKafkaQueueRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaQueue(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestSubscribeOptionsDefaults(t *testing.T) {
	opts := SubscribeOptions{Concurrency: -2}
	opts.setDefaults("intake")
	if opts.ConsumerGroup != "labyrinth-intake" || opts.Concurrency != 1 || opts.MaxRetries != 3 || opts.RetryDelay != time.Second {
		t.Fatalf("defaults = %+v", opts)
	}

	opts = SubscribeOptions{ConsumerGroup: "g", Concurrency: 4, MaxRetries: -1}
	opts.setDefaults("intake")
	if opts.ConsumerGroup != "g" || opts.Concurrency != 4 || opts.MaxRetries != -1 {
		t.Fatalf("explicit values overwritten: %+v", opts)
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	q, err := NewKafkaQueue(KafkaConfig{Brokers: []string{"127.0.0.1:1"}})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	noop := func(context.Context, *Message) error { return nil }
	if err := q.SubscribeWithOptions(context.Background(), "intake", noop, nil); err == nil {
		t.Fatalf("subscribe on closed queue succeeded")
	}
	if err := q.Start(); err == nil {
		t.Fatalf("start on closed queue succeeded")
	}
}

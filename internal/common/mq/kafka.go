package mq

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"labyrinth/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerID         = "x-message-id"
	headerTimestamp  = "x-message-ts"
	headerRetryCount = "x-message-retry"
	headerMaxRetries = "x-message-max-retries"
	headerExpiration = "x-message-expiration-ms"
)

const fetchBackoff = 100 * time.Millisecond

// KafkaConfig defines configuration for Kafka implementation.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	// Producer settings
	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	// Consumer settings
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *KafkaConfig) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	if c.MinBytes == 0 {
		c.MinBytes = 1 << 10
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 10 << 20
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireOne
	}
}

// KafkaQueue publishes status events and consumes the intake topic.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu      sync.Mutex
	subs    []*subscription
	started bool
	closed  bool
}

type subscription struct {
	topic   string
	handler HandlerFunc
	opts    SubscribeOptions
	parent  context.Context

	reader *kafka.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaQueue creates a Kafka-backed queue. No connection is made until the
// first publish or Start.
func NewKafkaQueue(cfg KafkaConfig) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	cfg.setDefaults()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			ClientID:    cfg.ClientID,
			DialTimeout: cfg.DialTimeout,
		},
	}
	return &KafkaQueue{
		config: cfg,
		writer: writer,
		dialer: &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true},
	}, nil
}

// Publish writes message to topic keyed by its ID.
func (k *KafkaQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// SubscribeWithOptions registers handler for topic. Consumption begins at
// Start, or immediately if the queue is already started.
func (k *KafkaQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	sub := &subscription{topic: topic, handler: handler, parent: ctx}
	if opts != nil {
		sub.opts = *opts
	}
	sub.opts.setDefaults(topic)
	if sub.parent == nil {
		sub.parent = context.Background()
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	k.subs = append(k.subs, sub)
	if k.started {
		k.run(sub)
	}
	return nil
}

// Start begins consuming every registered subscription.
func (k *KafkaQueue) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("message queue is closed")
	}
	if k.started {
		return nil
	}
	for _, sub := range k.subs {
		k.run(sub)
	}
	k.started = true
	return nil
}

// Stop cancels the consumers and waits for in-flight handlers.
func (k *KafkaQueue) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, sub := range k.subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range k.subs {
		sub.wg.Wait()
		if sub.reader != nil {
			_ = sub.reader.Close()
			sub.reader = nil
		}
	}
	k.started = false
	return nil
}

// Close stops the consumers and flushes the producer.
func (k *KafkaQueue) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	_ = k.Stop()
	return k.writer.Close()
}

// run starts one fetch loop and opts.Concurrency handlers. Caller holds k.mu.
func (k *KafkaQueue) run(sub *subscription) {
	sub.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       sub.topic,
		GroupID:     sub.opts.ConsumerGroup,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.LastOffset,
	})
	ctx, cancel := context.WithCancel(sub.parent)
	sub.cancel = cancel

	msgs := make(chan kafka.Message, sub.opts.Concurrency)
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		defer close(msgs)
		k.fetch(ctx, sub, msgs)
	}()
	for i := 0; i < sub.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			for msg := range msgs {
				k.deliver(ctx, sub, msg)
			}
		}()
	}
}

func (k *KafkaQueue) fetch(ctx context.Context, sub *subscription, out chan<- kafka.Message) {
	for {
		msg, err := sub.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "kafka fetch failed", zap.String("topic", sub.topic), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchBackoff):
			}
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// deliver runs the handler with retries and commits the offset once the
// message is handled, expired or dead-lettered. A cancelled context leaves
// the offset uncommitted so the message is redelivered.
func (k *KafkaQueue) deliver(ctx context.Context, sub *subscription, msg kafka.Message) {
	m := fromKafkaMessage(msg)
	if m.MaxRetries == 0 {
		m.MaxRetries = sub.opts.MaxRetries
	}
	if m.Expiration > 0 && !m.Timestamp.IsZero() && time.Since(m.Timestamp) > m.Expiration {
		logger.Info(ctx, "kafka message expired", zap.String("topic", sub.topic), zap.String("id", m.ID))
		k.commit(ctx, sub, msg)
		return
	}

	for {
		err := sub.handler(ctx, m)
		if err == nil {
			k.commit(ctx, sub, msg)
			return
		}
		m.RetryCount++
		if m.RetryCount > m.MaxRetries {
			logger.Error(ctx, "kafka message dropped after retries",
				zap.String("topic", sub.topic), zap.String("id", m.ID), zap.Error(err))
			if sub.opts.DeadLetterTopic != "" {
				if err := k.Publish(ctx, sub.opts.DeadLetterTopic, m); err != nil {
					logger.Error(ctx, "dead letter publish failed", zap.String("id", m.ID), zap.Error(err))
				}
			}
			k.commit(ctx, sub, msg)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sub.opts.RetryDelay):
		}
	}
}

func (k *KafkaQueue) commit(ctx context.Context, sub *subscription, msg kafka.Message) {
	if err := sub.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		logger.Warn(ctx, "kafka commit failed", zap.String("topic", sub.topic), zap.Error(err))
	}
}

// toKafkaMessage moves the metadata into reserved headers next to the
// caller's own.
func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+5)
	for key, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	put := func(key, v string) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
	}
	if message.ID != "" {
		put(headerID, message.ID)
	}
	put(headerTimestamp, message.Timestamp.Format(time.RFC3339Nano))
	if message.RetryCount != 0 {
		put(headerRetryCount, strconv.Itoa(message.RetryCount))
	}
	if message.MaxRetries != 0 {
		put(headerMaxRetries, strconv.Itoa(message.MaxRetries))
	}
	if message.Expiration > 0 {
		put(headerExpiration, strconv.FormatInt(message.Expiration.Milliseconds(), 10))
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

func fromKafkaMessage(msg kafka.Message) *Message {
	m := &Message{
		ID:        string(msg.Key),
		Body:      msg.Value,
		Headers:   make(map[string]string),
		Timestamp: msg.Time,
	}
	for _, h := range msg.Headers {
		v := string(h.Value)
		switch h.Key {
		case headerID:
			if v != "" {
				m.ID = v
			}
		case headerTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				m.Timestamp = ts
			}
		case headerRetryCount:
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				m.RetryCount = n
			}
		case headerMaxRetries:
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				m.MaxRetries = n
			}
		case headerExpiration:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				m.Expiration = time.Duration(n) * time.Millisecond
			}
		default:
			m.Headers[h.Key] = v
		}
	}
	return m
}

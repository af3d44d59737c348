package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"GoldCast/pkg/logger"
)

// Handler processes one message. Returning a Permanent error skips retries.
type Handler func(ctx context.Context, msg kafka.Message) error

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying, e.g. a malformed payload.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Consumer reads one topic and fans messages out to a worker pool.
// Messages of one partition always land on the same worker so they are
// handled and committed in offset order.
type Consumer struct {
	cfg     *ConsumerConfig
	reader  MessageReader
	dlq     MessageWriter
	handler Handler
	log     *logger.Logger
	metrics *consumerMetrics
}

// NewConsumer creates a group consumer for the configured topic.
func NewConsumer(handler Handler, log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: consumer topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	var dlq MessageWriter
	if cfg.DLQTopic != "" {
		dlq = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}

	return newConsumer(cfg, reader, dlq, handler, log), nil
}

// NewConsumerWithReader builds a consumer over an existing reader and
// optional DLQ writer.
func NewConsumerWithReader(reader MessageReader, dlq MessageWriter, handler Handler, log *logger.Logger, opts ...ConsumerOption) *Consumer {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newConsumer(cfg, reader, dlq, handler, log)
}

func newConsumer(cfg *ConsumerConfig, reader MessageReader, dlq MessageWriter, handler Handler, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		cfg:     cfg,
		reader:  reader,
		dlq:     dlq,
		handler: handler,
		log:     log.With(logger.String("component", "kafka_consumer"), logger.String("topic", cfg.Topic)),
		metrics: consumerMetricsFor(cfg.Registerer),
	}
}

// Run consumes until ctx is cancelled or the reader is closed, then waits
// for in-flight messages.
func (c *Consumer) Run(ctx context.Context) error {
	queues := make([]chan kafka.Message, c.cfg.WorkerCount)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, c.cfg.BufferSize)
		wg.Add(1)
		go func(q <-chan kafka.Message) {
			defer wg.Done()
			for msg := range q {
				c.process(ctx, msg)
			}
		}(queues[i])
	}
	c.log.Info("kafka consumer started", logger.Int("workers", c.cfg.WorkerCount))

	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
		c.log.Info("kafka consumer stopped")
	}()

	failures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			failures++
			c.log.Warn("kafka fetch failed", logger.Error(err), logger.Int("attempt", failures))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return nil
			}
			continue
		}
		failures = 0

		q := queues[msg.Partition%len(queues)]
		select {
		case q <- msg:
			c.metrics.depth.WithLabelValues(c.cfg.Topic).Set(float64(len(q)))
		case <-ctx.Done():
			return nil
		}
	}
}

// Close releases the reader and the DLQ writer.
func (c *Consumer) Close() error {
	err := c.reader.Close()
	if c.dlq != nil {
		if dErr := c.dlq.Close(); dErr != nil && err == nil {
			err = dErr
		}
	}
	return err
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	defer func() {
		c.metrics.latency.WithLabelValues(c.cfg.Topic).Observe(time.Since(start).Seconds())
	}()

	err := c.handleWithRetry(ctx, msg)
	result := "ok"
	if err != nil {
		if ctx.Err() != nil {
			// shutting down: leave uncommitted so the group redelivers it
			return
		}
		result = "dropped"
		c.log.Error("kafka message failed",
			logger.Error(err),
			logger.Int("partition", msg.Partition),
			logger.Int64("offset", msg.Offset),
			logger.Bool("permanent", IsPermanent(err)))
		if c.dlq != nil && c.cfg.DLQTopic != "" {
			if dlqErr := c.writeDLQ(ctx, msg, err); dlqErr != nil {
				c.log.Error("kafka dlq write failed", logger.Error(dlqErr), logger.String("dlq_topic", c.cfg.DLQTopic))
				return
			}
			result = "dlq"
		}
	}
	c.metrics.handled.WithLabelValues(c.cfg.Topic, result).Inc()

	// Commit on success, after DLQ, or when the failure can never succeed
	if err == nil || result == "dlq" || IsPermanent(err) {
		if cErr := c.commitWithRetry(ctx, msg, 3); cErr != nil {
			c.log.Error("kafka commit failed", logger.Error(cErr), logger.Int64("offset", msg.Offset))
		}
	}
}

func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) (err error) {
	for attempt := 1; ; attempt++ {
		err = c.safeHandle(ctx, msg)
		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) safeHandle(ctx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, msg)
}

func (c *Consumer) writeDLQ(ctx context.Context, msg kafka.Message, cause error) error {
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(msg.Topic)},
			{Key: "source_partition", Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: "source_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(ctx context.Context, msg kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = c.reader.CommitMessages(cctx, msg)
		cancel()
		if err == nil {
			return nil
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			break
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt <= 30 {
		if e := min << uint(attempt-1); e > 0 && e < max {
			exp = e
		}
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int64N(half))
}

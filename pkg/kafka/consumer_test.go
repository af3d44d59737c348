package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/pkg/logger"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "prices", Partition: i % 2, Offset: int64(i), Value: []byte(`{}`)}
	}
	return out
}

func runConsumer(t *testing.T, c *Consumer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, c.Run(ctx))
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestConsumerCommitsHandledMessages(t *testing.T) {
	reader := &fakeReader{pending: messages(6)}
	var handled atomic.Int32
	c := NewConsumerWithReader(reader, nil, func(context.Context, kafka.Message) error {
		handled.Add(1)
		return nil
	}, logger.NewNop(), WithConsumerTopic("prices"), WithConsumerWorkers(2), WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.commits()) == 6 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(6), handled.Load())
	assert.InDelta(t, 6, testutil.ToFloat64(c.metrics.handled.WithLabelValues("prices", "ok")), 0)
}

func TestConsumerRetriesTransientErrors(t *testing.T) {
	reader := &fakeReader{pending: messages(1)}
	var calls atomic.Int32
	c := NewConsumerWithReader(reader, nil, func(context.Context, kafka.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("db busy")
		}
		return nil
	}, logger.NewNop(), WithConsumerTopic("prices"),
		WithConsumerRetry(5, time.Millisecond, 2*time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, int32(3), calls.Load())
}

func TestConsumerSendsExhaustedMessagesToDLQ(t *testing.T) {
	reader := &fakeReader{pending: messages(1)}
	dlq := &fakeWriter{}
	var calls atomic.Int32
	c := NewConsumerWithReader(reader, dlq, func(context.Context, kafka.Message) error {
		calls.Add(1)
		return errors.New("still down")
	}, logger.NewNop(), WithConsumerTopic("prices"), WithConsumerDLQ("prices.dlq"),
		WithConsumerRetry(2, time.Millisecond, time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(3), calls.Load())
	out := dlq.written()
	require.Len(t, out, 1)
	assert.Equal(t, "prices.dlq", out[0].Topic)
	assert.Equal(t, "source_topic", out[0].Headers[0].Key)
	assert.Equal(t, "prices", string(out[0].Headers[0].Value))
}

func TestConsumerDropsPermanentFailuresWithoutRetry(t *testing.T) {
	reader := &fakeReader{pending: messages(1)}
	var calls atomic.Int32
	c := NewConsumerWithReader(reader, nil, func(context.Context, kafka.Message) error {
		calls.Add(1)
		return Permanent(errors.New("bad json"))
	}, logger.NewNop(), WithConsumerTopic("prices"), WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestConsumerLeavesTransientFailuresUncommittedWithoutDLQ(t *testing.T) {
	reader := &fakeReader{pending: messages(1)}
	var calls atomic.Int32
	c := NewConsumerWithReader(reader, nil, func(context.Context, kafka.Message) error {
		calls.Add(1)
		return errors.New("down")
	}, logger.NewNop(), WithConsumerTopic("prices"),
		WithConsumerRetry(1, time.Millisecond, time.Millisecond),
		WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()
	assert.Empty(t, reader.commits())
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	reader := &fakeReader{pending: messages(1)}
	c := NewConsumerWithReader(reader, nil, func(context.Context, kafka.Message) error {
		panic("nil map")
	}, logger.NewNop(), WithConsumerTopic("prices"), WithConsumerRegisterer(prometheus.NewRegistry()))

	stop := runConsumer(t, c)
	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	stop()
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 70; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.GreaterOrEqual(t, d, 5*time.Millisecond)
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))
	base := errors.New("x")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}

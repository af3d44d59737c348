package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/internal/services/spot"
	"GoldCast/pkg/logger"
)

type published struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	if p.err != nil {
		return p.err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: string(key), value: b})
	return nil
}

func TestSpotRecorderStoreBackend(t *testing.T) {
	store := &savingStore{}
	prices := NewPriceService(store, nil, "XAU", "USD")
	r := NewSpotRecorder(&fakeSpot{price: 2333}, prices, nil, "", RecordToStore, time.Minute, nil)

	require.NoError(t, r.RecordOnce(context.Background()))
	require.Len(t, store.saved, 1)
	assert.Equal(t, 2333.0, store.saved[0].Price)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), store.saved[0].Date)
	assert.Equal(t, "XAU", store.saved[0].Asset)
}

func TestSpotRecorderKafkaBackendRoundTripsThroughIngest(t *testing.T) {
	pub := &fakePublisher{}
	prices := NewPriceService(&savingStore{}, nil, "XAU", "USD")
	r := NewSpotRecorder(&fakeSpot{price: 2333}, prices, pub, "gold.prices", RecordToKafka, time.Minute, nil)

	require.NoError(t, r.RecordOnce(context.Background()))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "gold.prices", pub.msgs[0].topic)
	assert.Equal(t, "XAU", pub.msgs[0].key)
	assert.JSONEq(t, `{"asset":"XAU","currency":"USD","date":"2024-05-10","price":2333}`, string(pub.msgs[0].value))

	h, store, _ := newIngest()
	require.NoError(t, h.Handle(context.Background(), kafka.Message{Value: pub.msgs[0].value}))
	require.Len(t, store.saved, 1)
	assert.Equal(t, 2333.0, store.saved[0].Price)
}

func TestSpotRecorderSkipsUnavailableSpot(t *testing.T) {
	store := &savingStore{}
	r := NewSpotRecorder(&fakeSpot{err: fmt.Errorf("warming up: %w", spot.ErrSpotUnavailable)},
		NewPriceService(store, nil, "XAU", "USD"), nil, "", RecordToStore, time.Minute, nil)

	assert.NoError(t, r.RecordOnce(context.Background()))
	assert.Empty(t, store.saved)
}

func TestSpotRecorderErrors(t *testing.T) {
	prices := NewPriceService(&savingStore{}, nil, "XAU", "USD")

	r := NewSpotRecorder(&fakeSpot{err: errors.New("boom")}, prices, nil, "", RecordToStore, time.Minute, nil)
	assert.Error(t, r.RecordOnce(context.Background()))

	r = NewSpotRecorder(&fakeSpot{price: 1}, prices, nil, "", RecordToKafka, time.Minute, nil)
	assert.Error(t, r.RecordOnce(context.Background()))

	r = NewSpotRecorder(&fakeSpot{price: 1}, prices, nil, "", "carrier-pigeon", time.Minute, logger.NewNop())
	assert.Error(t, r.RecordOnce(context.Background()))
}

func TestSpotRecorderRunStopsOnCancel(t *testing.T) {
	store := &savingStore{}
	r := NewSpotRecorder(&fakeSpot{price: 2000}, NewPriceService(store, nil, "XAU", "USD"), nil, "", RecordToStore, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.savedCopy()) == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/internal/domain/models"
	pkgkafka "GoldCast/pkg/kafka"
)

type savingStore struct {
	fakePrices
	saveMu  sync.Mutex
	saved   []models.PriceObservation
	saveErr error
	health  error
}

func (s *savingStore) SavePrices(_ context.Context, prices []models.PriceObservation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	s.saved = append(s.saved, prices...)
	return nil
}

func (s *savingStore) savedCopy() []models.PriceObservation {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return append([]models.PriceObservation(nil), s.saved...)
}

func (s *savingStore) Health(context.Context) error { return s.health }

type ingestMetrics struct {
	nopMetrics
	ingested map[string]int
	errs     []string
}

func (m *ingestMetrics) RecordPricesIngested(asset string, n int) { m.ingested[asset] += n }
func (m *ingestMetrics) RecordError(kind string)                  { m.errs = append(m.errs, kind) }

func newIngest() (*PriceIngestHandler, *savingStore, *ingestMetrics) {
	store := &savingStore{}
	m := &ingestMetrics{ingested: map[string]int{}}
	return NewPriceIngestHandler(NewPriceService(store, m, "XAU", "USD"), nil), store, m
}

func TestIngestSingleMessageNormalizesDate(t *testing.T) {
	h, store, m := newIngest()

	err := h.Handle(context.Background(), kafka.Message{Value: []byte(`{"asset":"xau","currency":"usd","date":"2024-05-10T15:30:00Z","price":2345.5}`)})
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	assert.Equal(t, day(0), store.saved[0].Date)
	assert.Equal(t, "XAU", store.saved[0].Asset)
	assert.Equal(t, "USD", store.saved[0].Currency)
	assert.Equal(t, 2345.5, store.saved[0].Price)
	assert.Equal(t, 1, m.ingested["XAU"])
}

func TestIngestBatchWithUnixMillisAndDefaults(t *testing.T) {
	h, store, m := newIngest()

	ms := day(-1).Add(8 * time.Hour).UnixMilli()
	payload := fmt.Sprintf(`[{"t":%d,"price":2300},{"date":"2024-05-10","price":2310,"asset":"XAG","currency":"USD"}]`, ms)
	require.NoError(t, h.Handle(context.Background(), kafka.Message{Value: []byte(payload)}))

	require.Len(t, store.saved, 2)
	assert.Equal(t, day(-1), store.saved[0].Date)
	assert.Equal(t, "XAU", store.saved[0].Asset)
	assert.Equal(t, "USD", store.saved[0].Currency)
	assert.Equal(t, 1, m.ingested["XAU"])
	assert.Equal(t, 1, m.ingested["XAG"])
}

func TestIngestRejectsInvalidAsPermanent(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":       `{"price":`,
		"empty":          ``,
		"zero price":     `{"date":"2024-05-10","price":0}`,
		"negative price": `{"date":"2024-05-10","price":-3}`,
		"missing date":   `{"price":2300}`,
		"bad date":       `{"date":"yesterday","price":2300}`,
		"bad item":       `[{"date":"2024-05-10","price":2300},{"price":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			h, store, m := newIngest()
			err := h.Handle(context.Background(), kafka.Message{Value: []byte(payload)})
			require.Error(t, err)
			assert.True(t, pkgkafka.IsPermanent(err))
			assert.ErrorIs(t, err, ErrInvalidPriceMessage)
			assert.Empty(t, store.saved)
			assert.Equal(t, []string{"ingest_decode"}, m.errs)
		})
	}
}

func TestIngestStoreErrorIsRetryable(t *testing.T) {
	h, store, m := newIngest()
	store.saveErr = errors.New("db down")

	err := h.Handle(context.Background(), kafka.Message{Value: []byte(`{"date":"2024-05-10","price":2300}`)})
	require.Error(t, err)
	assert.False(t, pkgkafka.IsPermanent(err))
	assert.ErrorIs(t, err, store.saveErr)
	assert.Equal(t, []string{"ingest_store"}, m.errs)
	assert.Empty(t, m.ingested)
}

func TestPriceServiceLatest(t *testing.T) {
	store := &savingStore{fakePrices: fakePrices{obs: daily(50)}}
	svc := NewPriceService(store, nil, "XAU", "USD")

	obs, err := svc.Latest(context.Background(), 30)
	require.NoError(t, err)
	assert.Len(t, obs, 30)
	assert.Equal(t, []int{30}, store.limits)

	empty, err := NewPriceService(&savingStore{}, nil, "XAU", "USD").Latest(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestPriceServiceHealth(t *testing.T) {
	store := &savingStore{health: errors.New("ping timeout")}
	err := NewPriceService(store, nil, "XAU", "USD").Health(context.Background())
	assert.ErrorIs(t, err, store.health)
}


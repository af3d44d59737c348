package spot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GoldCast/internal/service/finnhub"
	"GoldCast/pkg/circuitbreaker"
)

func TestHTTPProviderParsesBothShapes(t *testing.T) {
	for name, body := range map[string]string{
		"price":         `{"price": 2001.5}`,
		"usd_per_ounce": `{"usd_per_ounce": 2001.5}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			q, err := NewHTTPProvider(srv.URL, time.Second, nil).GetCurrentSpot(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 2001.5, q.USDPerOunce)
			assert.Equal(t, sourceHTTP, q.Source)
			assert.False(t, q.ObservedAt.IsZero())
		})
	}
}

func TestHTTPProviderRejectsMissingPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second, nil).GetCurrentSpot(context.Background())
	assert.ErrorIs(t, err, ErrSpotUnavailable)
}

func TestHTTPProviderNoURL(t *testing.T) {
	_, err := NewHTTPProvider("", time.Second, nil).GetCurrentSpot(context.Background())
	assert.ErrorIs(t, err, ErrSpotUnavailable)
}

func TestHTTPProviderBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	br := circuitbreaker.New("spot", circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	p := NewHTTPProvider(srv.URL, time.Second, br)
	for i := 0; i < 2; i++ {
		_, err := p.GetCurrentSpot(context.Background())
		require.Error(t, err)
	}
	_, err := p.GetCurrentSpot(context.Background())
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

type fakeStream struct {
	trades   chan finnhub.Trade
	errs     chan error
	connects int32
	closed   int32
	failDial error
}

func newFakeStream() *fakeStream {
	return &fakeStream{trades: make(chan finnhub.Trade, 8), errs: make(chan error, 1)}
}

func (f *fakeStream) Connect(context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	return f.failDial
}
func (f *fakeStream) Subscribe(context.Context) error { return nil }
func (f *fakeStream) Read(context.Context) (<-chan finnhub.Trade, <-chan error) {
	return f.trades, f.errs
}
func (f *fakeStream) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestStreamProviderUnavailableUntilFirstTrade(t *testing.T) {
	p := NewStreamProvider(newFakeStream(), "OANDA:XAU_USD", time.Minute, nil)
	_, err := p.GetCurrentSpot(context.Background())
	assert.ErrorIs(t, err, ErrSpotUnavailable)
}

func TestStreamProviderKeepsLatestTrade(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := now
	fs := newFakeStream()
	p := NewStreamProvider(fs, "OANDA:XAU_USD", time.Minute, nil, WithStreamClock(func() time.Time { return clock }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	fs.trades <- finnhub.Trade{Symbol: "OTHER", Price: 1, Time: now}
	fs.trades <- finnhub.Trade{Symbol: "OANDA:XAU_USD", Price: 2350, Time: now.Add(-10 * time.Second)}
	fs.trades <- finnhub.Trade{Symbol: "OANDA:XAU_USD", Price: 2340, Time: now.Add(-20 * time.Second)}

	require.Eventually(t, func() bool {
		q, err := p.GetCurrentSpot(context.Background())
		return err == nil && q.USDPerOunce == 2350
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	clock = now.Add(2 * time.Minute)
	_, err := p.GetCurrentSpot(context.Background())
	assert.ErrorIs(t, err, ErrSpotUnavailable)
}

func TestStreamProviderReconnects(t *testing.T) {
	fs := newFakeStream()
	fs.failDial = errors.New("dial refused")
	p := NewStreamProvider(fs, "", time.Minute, nil, WithReconnectDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fs.connects) >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.GreaterOrEqual(t, atomic.LoadInt32(&fs.closed), int32(3))
}

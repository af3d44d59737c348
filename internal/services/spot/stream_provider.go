package spot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/internal/service/finnhub"
	"GoldCast/pkg/logger"
)

const sourceStream = "finnhub"

// TradeStream is the subset of the Finnhub client the provider drives.
type TradeStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan finnhub.Trade, <-chan error)
	Close() error
}

type StreamOption func(*StreamProvider)

func WithStreamClock(now func() time.Time) StreamOption {
	return func(p *StreamProvider) { p.now = now }
}

func WithReconnectDelay(d time.Duration) StreamOption {
	return func(p *StreamProvider) { p.reconnectDelay = d }
}

// StreamProvider keeps the latest traded price of symbol.
type StreamProvider struct {
	stream         TradeStream
	symbol         string
	maxAge         time.Duration
	reconnectDelay time.Duration
	now            func() time.Time
	log            *logger.Logger

	mu     sync.RWMutex
	latest models.SpotQuote
}

func NewStreamProvider(stream TradeStream, symbol string, maxAge time.Duration, log *logger.Logger, opts ...StreamOption) *StreamProvider {
	if log == nil {
		log = logger.NewNop()
	}
	p := &StreamProvider{
		stream:         stream,
		symbol:         symbol,
		maxAge:         maxAge,
		reconnectDelay: 5 * time.Second,
		now:            time.Now,
		log:            log.With(logger.String("component", "spot_stream")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes the stream until ctx is done, reconnecting after failures.
func (p *StreamProvider) Run(ctx context.Context) error {
	for {
		if err := p.session(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("spot stream interrupted", logger.Error(err), logger.Duration("retry_in", p.reconnectDelay))
		}
		_ = p.stream.Close()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *StreamProvider) session(ctx context.Context) error {
	if err := p.stream.Connect(ctx); err != nil {
		return err
	}
	if err := p.stream.Subscribe(ctx); err != nil {
		return err
	}
	trades, errs := p.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-trades:
			if !ok {
				return <-errs
			}
			p.observe(tr)
		}
	}
}

func (p *StreamProvider) observe(tr finnhub.Trade) {
	if tr.Price <= 0 || (p.symbol != "" && tr.Symbol != p.symbol) {
		return
	}
	at := tr.Time
	if at.IsZero() {
		at = p.now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if at.Before(p.latest.ObservedAt) {
		return
	}
	p.latest = models.SpotQuote{USDPerOunce: tr.Price, ObservedAt: at.UTC(), Source: sourceStream}
}

func (p *StreamProvider) GetCurrentSpot(_ context.Context) (models.SpotQuote, error) {
	p.mu.RLock()
	q := p.latest
	p.mu.RUnlock()

	if q.USDPerOunce <= 0 {
		return models.SpotQuote{}, ErrSpotUnavailable
	}
	if p.maxAge > 0 {
		if age := p.now().Sub(q.ObservedAt); age > p.maxAge {
			return models.SpotQuote{}, fmt.Errorf("%w: last trade %s old", ErrSpotUnavailable, age.Truncate(time.Second))
		}
	}
	return q, nil
}

var _ domsvc.SpotProvider = (*StreamProvider)(nil)
var _ TradeStream = (*finnhub.Client)(nil)

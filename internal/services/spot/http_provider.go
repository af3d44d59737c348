package spot

import (
	"context"
	"fmt"
	"time"

	"GoldCast/internal/domain/models"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/pkg/circuitbreaker"
	xhttp "GoldCast/pkg/http"
)

const sourceHTTP = "http"

// HTTPProvider fetches the spot price from a JSON endpoint.
type HTTPProvider struct {
	url     string
	client  *xhttp.Client
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

// NewHTTPProvider returns a provider for url. A nil breaker leaves calls unguarded.
func NewHTTPProvider(url string, timeout time.Duration, breaker *circuitbreaker.Breaker, opts ...xhttp.ClientOption) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		url:     url,
		client:  xhttp.NewClient(append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)...),
		breaker: breaker,
		now:     time.Now,
	}
}

type spotResponse struct {
	Price       *float64 `json:"price"`
	USDPerOunce *float64 `json:"usd_per_ounce"`
}

func (p *HTTPProvider) GetCurrentSpot(ctx context.Context) (models.SpotQuote, error) {
	if p.url == "" {
		return models.SpotQuote{}, fmt.Errorf("%w: no spot url configured", ErrSpotUnavailable)
	}
	fetch := func() (models.SpotQuote, error) { return p.fetch(ctx) }
	if p.breaker == nil {
		return fetch()
	}
	return circuitbreaker.Run(p.breaker, fetch)
}

func (p *HTTPProvider) fetch(ctx context.Context) (models.SpotQuote, error) {
	var resp spotResponse
	err := p.client.GetJSON(ctx, p.url, &resp)
	if err != nil {
		return models.SpotQuote{}, fmt.Errorf("get spot: %w", err)
	}

	var price float64
	switch {
	case resp.USDPerOunce != nil:
		price = *resp.USDPerOunce
	case resp.Price != nil:
		price = *resp.Price
	}
	if price <= 0 {
		return models.SpotQuote{}, fmt.Errorf("%w: invalid price %v", ErrSpotUnavailable, price)
	}
	return models.SpotQuote{USDPerOunce: price, ObservedAt: p.now().UTC(), Source: sourceHTTP}, nil
}

var _ domsvc.SpotProvider = (*HTTPProvider)(nil)

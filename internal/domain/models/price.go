package models

import "time"

// PriceObservation is a daily price for an asset/currency pair.
// Date is normalized to UTC midnight.
type PriceObservation struct {
	Date     time.Time `json:"date"`
	Price    float64   `json:"price"`
	Asset    string    `json:"asset"`
	Currency string    `json:"currency"`
}

// SpotQuote is the current spot price of one troy ounce.
type SpotQuote struct {
	USDPerOunce float64   `json:"usd_per_ounce"`
	ObservedAt  time.Time `json:"observed_at"`
	Source      string    `json:"source"`
}

// PriceRow is the upstream wire shape of one training observation.
type PriceRow struct {
	Date  string  `json:"ds"`
	Price float64 `json:"y"`
}

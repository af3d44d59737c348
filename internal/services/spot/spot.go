// Package spot provides current gold spot prices from an HTTP quote
// endpoint or a Finnhub trade stream.
package spot

import "errors"

// ErrSpotUnavailable is returned when no usable spot price is known.
var ErrSpotUnavailable = errors.New("spot price unavailable")

package models

// Requests for HTTP endpoints that are not forecast calls.

type PricesRequest struct {
	Limit int `query:"limit" json:"limit" default:"30" validate:"gte=1,lte=1000"`
}

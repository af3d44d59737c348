package models

// FeatureRow is one date's worth of auxiliary signals sent to the
// enhanced forecast endpoint.
type FeatureRow struct {
	Date     string             `json:"ds"`
	Features map[string]float64 `json:"features"`
}

// RawFeatures maps a feature name to a per-date series aligned with the
// input dates. Undefined (warm-up) values are NaN.
type RawFeatures struct {
	Dates  []string
	Series map[string][]float64
}

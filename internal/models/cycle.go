package models

import "time"

// ExcludedSymbol is an instrument dropped from a cycle because its funding
// lookup failed.
type ExcludedSymbol struct {
	Venue  string `json:"venue"`
	Symbol string `json:"symbol"`
	Err    string `json:"error"`
}

// VenueFailure is a venue that produced no quotes in a cycle.
type VenueFailure struct {
	Venue string `json:"venue"`
	Err   string `json:"error"`
}

// EnrichFailure is a ranked candidate whose price or volume lookup failed.
type EnrichFailure struct {
	BaseCurrency string `json:"base_currency"`
	Err          string `json:"error"`
}

// Diagnostics collects everything a cycle skipped instead of failing.
type Diagnostics struct {
	Excluded       []ExcludedSymbol `json:"excluded,omitempty"`
	FailedVenues   []VenueFailure   `json:"failed_venues,omitempty"`
	EnrichFailures []EnrichFailure  `json:"enrich_failures,omitempty"`
}

// CycleReport is the outcome of one polling cycle.
type CycleReport struct {
	CycleID     string               `json:"cycle_id"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration"`
	Quotes      []VenueQuotes        `json:"quotes"`
	Candidates  []ArbitrageCandidate `json:"candidates"`
	Diagnostics Diagnostics          `json:"diagnostics"`
}

// QuoteCount is the total number of quotes across venues.
func (r CycleReport) QuoteCount() int {
	n := 0
	for _, vq := range r.Quotes {
		n += len(vq.Quotes)
	}
	return n
}

package models

import (
	"fmt"
	"strings"
)

// OrderIntent is a single limit order derived from a candidate.
type OrderIntent struct {
	BaseCurrency string    `json:"base_currency"`
	Venue        string    `json:"venue"`
	Symbol       string    `json:"symbol"`
	Side         OrderSide `json:"side"`
	Price        string    `json:"price"`
	Size         string    `json:"size"`
}

// OrderResult is a placed order.
type OrderResult struct {
	Venue           string      `json:"venue"`
	Symbol          string      `json:"symbol"`
	ExternalOrderID string      `json:"external_order_id"`
	Intent          OrderIntent `json:"intent"`
}

// Leg identifies a previously placed order for the close path. Side and
// Size are the placed order's and are only known for legs recorded at open
// time; they let simulated legs be flattened without asking the venue.
type Leg struct {
	Venue           string    `json:"venue"`
	Symbol          string    `json:"symbol"`
	ExternalOrderID string    `json:"external_order_id"`
	BaseCurrency    string    `json:"base_currency,omitempty"`
	Side            OrderSide `json:"side,omitempty"`
	Size            string    `json:"size,omitempty"`
}

// LegOf records a placed order as a leg.
func LegOf(r OrderResult) Leg {
	return Leg{
		Venue:           r.Venue,
		Symbol:          r.Symbol,
		ExternalOrderID: r.ExternalOrderID,
		BaseCurrency:    r.Intent.BaseCurrency,
		Side:            r.Intent.Side,
		Size:            r.Intent.Size,
	}
}

func (l Leg) String() string {
	return l.Venue + ":" + l.Symbol + ":" + l.ExternalOrderID
}

// ParseLeg parses "venue:symbol:id".
func ParseLeg(s string) (Leg, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Leg{}, fmt.Errorf("invalid leg %q, want venue:symbol:id", s)
	}
	return Leg{Venue: strings.ToLower(parts[0]), Symbol: parts[1], ExternalOrderID: parts[2]}, nil
}

// OrderInfo is what a venue reports about an existing order.
type OrderInfo struct {
	Side   OrderSide `json:"side"`
	Size   string    `json:"size"`
	Status string    `json:"status"`
}

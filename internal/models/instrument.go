package models

import (
	"fmt"
	"strings"
	"time"
)

// Instrument is a perpetual contract listed on one venue.
type Instrument struct {
	Symbol        string `json:"symbol"`
	BaseCurrency  string `json:"base_currency"`
	QuoteCurrency string `json:"quote_currency"`
	Venue         string `json:"venue"`
}

// Side is the position direction that collects funding.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "short"
	}
	return "long"
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "long":
		*s = Long
	case "short":
		*s = Short
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// OrderSide is the direction of a single order.
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// Opposite returns the side that flattens an order placed on s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// RawFunding is the current funding rate exactly as a venue reports it.
// IntervalHours is zero when the venue does not report a per-contract
// settlement interval.
type RawFunding struct {
	Symbol          string    `json:"symbol"`
	Rate            float64   `json:"rate"`
	IntervalHours   float64   `json:"interval_hours,omitempty"`
	NextFundingTime time.Time `json:"next_funding_time"`
}

// Package funding converts venue funding rates into annualised percentages.
package funding

import (
	"math"
	"strings"

	"fundingarb/internal/models"
)

const (
	// DefaultIntervalHours is the settlement period most venues use.
	DefaultIntervalHours = 8
	daysPerYear          = 365
	epsilon              = 2.220446049250313e-16 // 2^-52
)

// Round2 rounds half away from zero to two decimals, nudged by 2^-52 so
// values such as 1.005 stored just below the midpoint still round up.
func Round2(x float64) float64 {
	if x < 0 {
		return -Round2(-x)
	}
	return math.Round((x+epsilon)*100) / 100
}

// FundingToAPR annualises a per-settlement funding fraction for a venue that
// settles three times a day. Positive funding means shorts are paid.
func FundingToAPR(rate float64) (float64, models.Side) {
	return toAPR(rate, 3)
}

// FundingToAPRInterval is FundingToAPR for an arbitrary settlement interval.
func FundingToAPRInterval(rate, intervalHours float64) (float64, models.Side) {
	if intervalHours <= 0 || intervalHours == DefaultIntervalHours {
		return FundingToAPR(rate)
	}
	return toAPR(rate, 24/intervalHours)
}

func toAPR(rate, perDay float64) (float64, models.Side) {
	signed := rate * perDay * daysPerYear * 100
	side := models.Long
	if signed > 0 {
		side = models.Short
	}
	return Round2(math.Abs(signed)), side
}

// Normalizer turns raw venue funding into quotes using each venue's
// settlement interval.
type Normalizer struct {
	intervals map[string]float64
}

// NewNormalizer builds a Normalizer; venues missing from intervals settle
// every DefaultIntervalHours.
func NewNormalizer(intervals map[string]float64) *Normalizer {
	n := &Normalizer{intervals: make(map[string]float64, len(intervals))}
	for venue, h := range intervals {
		n.intervals[strings.ToLower(venue)] = h
	}
	return n
}

// IntervalHours returns the settlement interval used for venue.
func (n *Normalizer) IntervalHours(venue string) float64 {
	if h, ok := n.intervals[strings.ToLower(venue)]; ok && h > 0 {
		return h
	}
	return DefaultIntervalHours
}

// Normalize builds the quote for one instrument. A per-contract interval
// reported by the venue wins over the configured one.
func (n *Normalizer) Normalize(inst models.Instrument, raw models.RawFunding) models.FundingQuote {
	hours := raw.IntervalHours
	if hours <= 0 {
		hours = n.IntervalHours(inst.Venue)
	}
	apr, side := FundingToAPRInterval(raw.Rate, hours)
	return models.FundingQuote{
		Symbol:        inst.Symbol,
		BaseCurrency:  inst.BaseCurrency,
		APR:           apr,
		ReceivingSide: side,
		Rate:          raw.Rate,
	}
}

package models

// FundingQuote is a normalised funding observation. APR is never negative;
// the sign lives in ReceivingSide.
type FundingQuote struct {
	Symbol        string  `json:"symbol"`
	BaseCurrency  string  `json:"base_currency"`
	APR           float64 `json:"apr"`
	ReceivingSide Side    `json:"receiving_side"`
	Rate          float64 `json:"rate"`
}

// VenueOccurrence is a quote tagged with the venue it came from. Volume and
// price are only filled for ranked candidates.
type VenueOccurrence struct {
	FundingQuote
	Venue     string `json:"venue"`
	Volume24h string `json:"volume_24h,omitempty"`
	Price     string `json:"price,omitempty"`
}

// VenueQuotes groups the quotes one venue produced in a cycle, in listing order.
type VenueQuotes struct {
	Venue  string         `json:"venue"`
	Quotes []FundingQuote `json:"quotes"`
}

// ArbitrageCandidate is the best long and short occurrence seen for one base
// asset. ResultingAPR always equals LongAPR + ShortAPR with unset sides
// counting as zero.
type ArbitrageCandidate struct {
	BaseCurrency string            `json:"base_currency"`
	ResultingAPR float64           `json:"resulting_apr"`
	LongAPR      *float64          `json:"long_apr,omitempty"`
	ShortAPR     *float64          `json:"short_apr,omitempty"`
	LongMatch    *VenueOccurrence  `json:"long_match,omitempty"`
	ShortMatch   *VenueOccurrence  `json:"short_match,omitempty"`
	AllMatches   []VenueOccurrence `json:"all_matches"`
	PriceSpread  string            `json:"price_spread,omitempty"`
}

// Complete reports whether both legs exist on different venues.
func (c ArbitrageCandidate) Complete() bool {
	return c.HasBothSides() && c.LongMatch.Venue != c.ShortMatch.Venue
}

// HasBothSides reports whether a long and a short match exist, on any venue.
func (c ArbitrageCandidate) HasBothSides() bool {
	return c.LongAPR != nil && c.ShortAPR != nil && c.LongMatch != nil && c.ShortMatch != nil
}

// Clone returns a deep copy.
func (c ArbitrageCandidate) Clone() ArbitrageCandidate {
	out := c
	if c.LongAPR != nil {
		v := *c.LongAPR
		out.LongAPR = &v
	}
	if c.ShortAPR != nil {
		v := *c.ShortAPR
		out.ShortAPR = &v
	}
	if c.LongMatch != nil {
		m := *c.LongMatch
		out.LongMatch = &m
	}
	if c.ShortMatch != nil {
		m := *c.ShortMatch
		out.ShortMatch = &m
	}
	if c.AllMatches != nil {
		out.AllMatches = append([]VenueOccurrence(nil), c.AllMatches...)
	}
	return out
}

// Package matcher folds per-venue funding quotes into one best long/short
// pairing per base asset and ranks the results.
package matcher

import (
	"context"
	"sort"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

// AddFundingOccurrence folds one quote from venueName into c and returns
// the updated candidate. c is not modified. A quote only replaces the
// current match of its side when its APR is strictly higher, so the first
// of several equal quotes is kept.
func AddFundingOccurrence(c models.ArbitrageCandidate, q models.FundingQuote, venueName string) models.ArbitrageCandidate {
	out := c.Clone()
	if out.BaseCurrency == "" {
		out.BaseCurrency = q.BaseCurrency
	}

	occ := models.VenueOccurrence{FundingQuote: q, Venue: venueName}
	apr := q.APR

	switch q.ReceivingSide {
	case models.Long:
		if out.LongAPR == nil || *out.LongAPR < apr {
			m := occ
			out.LongAPR = &apr
			out.LongMatch = &m
		}
	case models.Short:
		if out.ShortAPR == nil || *out.ShortAPR < apr {
			m := occ
			out.ShortAPR = &apr
			out.ShortMatch = &m
		}
	}

	out.AllMatches = append(out.AllMatches, occ)
	out.ResultingAPR = resultingAPR(out)
	return out
}

func resultingAPR(c models.ArbitrageCandidate) float64 {
	var total float64
	if c.LongAPR != nil {
		total += *c.LongAPR
	}
	if c.ShortAPR != nil {
		total += *c.ShortAPR
	}
	return total
}

// Fold merges every venue's quotes, in the order given, into one candidate
// per base asset. Candidates come back in the order their asset was first
// seen.
func Fold(venueQuotes []models.VenueQuotes) []models.ArbitrageCandidate {
	index := make(map[string]int)
	var out []models.ArbitrageCandidate

	for _, vq := range venueQuotes {
		for _, q := range vq.Quotes {
			if q.BaseCurrency == "" {
				continue
			}
			i, ok := index[q.BaseCurrency]
			if !ok {
				i = len(out)
				index[q.BaseCurrency] = i
				out = append(out, models.ArbitrageCandidate{BaseCurrency: q.BaseCurrency})
			}
			out[i] = AddFundingOccurrence(out[i], q, vq.Venue)
		}
	}
	return out
}

// Rank keeps complete candidates, sorts them by ResultingAPR descending and
// returns at most k of them (all of them when k <= 0). Equal APRs keep
// their fold order.
func Rank(candidates []models.ArbitrageCandidate, k int) []models.ArbitrageCandidate {
	var complete []models.ArbitrageCandidate
	for _, c := range candidates {
		if c.Complete() {
			complete = append(complete, c)
		}
	}
	sort.SliceStable(complete, func(i, j int) bool {
		return complete[i].ResultingAPR > complete[j].ResultingAPR
	})
	if k > 0 && len(complete) > k {
		complete = complete[:k]
	}
	return complete
}

// Lookup resolves a venue by name.
type Lookup interface {
	Get(name string) (venue.Venue, error)
}

// Matcher runs fold, rank and enrichment for one cycle.
type Matcher struct {
	topK   int
	enrich bool
	venues Lookup
	log    *logger.Log
}

// New builds a Matcher. venues may be nil when enrichment is disabled.
func New(cfg config.MatcherConfig, venues Lookup) *Matcher {
	return &Matcher{
		topK:   cfg.TopK,
		enrich: cfg.Enrich && venues != nil,
		venues: venues,
		log:    logger.GetLogger(),
	}
}

// Match folds quotes, ranks the candidates and enriches the survivors.
func (m *Matcher) Match(ctx context.Context, quotes []models.VenueQuotes) ([]models.ArbitrageCandidate, []models.EnrichFailure) {
	log := m.log.WithComponent("matcher")

	folded := Fold(quotes)
	ranked := Rank(folded, m.topK)

	sameVenue := 0
	for _, c := range folded {
		if c.HasBothSides() && !c.Complete() {
			sameVenue++
		}
	}

	log.WithFields(logger.Fields{
		"assets":     len(folded),
		"ranked":     len(ranked),
		"same_venue": sameVenue,
		"top_k":      m.topK,
	}).Debug("candidates ranked")

	if !m.enrich || len(ranked) == 0 {
		return ranked, nil
	}
	return Enrich(ctx, ranked, m.venues)
}

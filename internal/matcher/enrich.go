package matcher

import (
	"context"
	"fmt"

	"fundingarb/internal/dispatcher"
	"fundingarb/internal/models"
	"fundingarb/internal/pricing"
	"fundingarb/logger"
)

const enrichConcurrency = 4

// Enrich fetches the 24h volume and current price of both matches of every
// candidate and fills PriceSpread. A candidate whose lookups fail is
// returned unenriched and reported in the failures.
func Enrich(ctx context.Context, candidates []models.ArbitrageCandidate, venues Lookup) ([]models.ArbitrageCandidate, []models.EnrichFailure) {
	log := logger.GetLogger().WithComponent("matcher")

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}

	results := dispatcher.SettleAll(ctx, idx, enrichConcurrency, func(ctx context.Context, i int) (models.ArbitrageCandidate, error) {
		return enrichOne(ctx, candidates[i], venues)
	})

	out := make([]models.ArbitrageCandidate, len(candidates))
	var failures []models.EnrichFailure
	for _, r := range results {
		if r.Err != nil {
			c := candidates[r.Key]
			out[r.Key] = c.Clone()
			failures = append(failures, models.EnrichFailure{BaseCurrency: c.BaseCurrency, Err: r.Err.Error()})
			log.WithError(r.Err).WithField("base_currency", c.BaseCurrency).Warn("candidate enrichment failed")
			continue
		}
		out[r.Key] = r.Value
	}
	return out, failures
}

func enrichOne(ctx context.Context, c models.ArbitrageCandidate, venues Lookup) (models.ArbitrageCandidate, error) {
	if !c.HasBothSides() {
		return c, fmt.Errorf("%s: candidate has no long and short match", c.BaseCurrency)
	}
	out := c.Clone()

	for _, occ := range []*models.VenueOccurrence{out.LongMatch, out.ShortMatch} {
		v, err := venues.Get(occ.Venue)
		if err != nil {
			return c, err
		}
		vol, err := v.GetVolume24h(ctx, occ.Symbol)
		if err != nil {
			return c, fmt.Errorf("%s volume: %w", occ.Venue, err)
		}
		price, err := v.GetSimplePrice(ctx, occ.Symbol)
		if err != nil {
			return c, fmt.Errorf("%s price: %w", occ.Venue, err)
		}
		occ.Volume24h = vol
		occ.Price = price
	}

	spread, err := pricing.SpreadBps(out.LongMatch.Price, out.ShortMatch.Price)
	if err != nil {
		return c, fmt.Errorf("spread: %w", err)
	}
	out.PriceSpread = spread
	return out, nil
}

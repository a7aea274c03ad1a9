package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fundingarb/config"
	"fundingarb/internal/coordinator"
	"fundingarb/internal/dispatcher"
	"fundingarb/internal/funding"
	"fundingarb/internal/matcher"
	"fundingarb/internal/models"
	"fundingarb/internal/poller"
	"fundingarb/internal/positions"
	"fundingarb/internal/venue"
	"fundingarb/internal/venue/binance"
	"fundingarb/internal/venue/bitget"
	"fundingarb/internal/venue/bybit"
	"fundingarb/logger"
)

// app holds the wired components shared by every mode.
type app struct {
	cfg         *config.Config
	registry    venue.Registry
	sources     []poller.Source
	dispatchers []*dispatcher.Dispatcher
	normalizer  *funding.Normalizer
	matcher     *matcher.Matcher
	coordinator *coordinator.Coordinator
}

func newApp(cfg *config.Config) (*app, error) {
	log := logger.GetLogger().WithComponent("main")

	order := venueOrder(cfg.Poller.VenueOrder, cfg.Venues.Enabled())
	if len(order) == 0 {
		return nil, fmt.Errorf("no venues enabled")
	}

	a := &app{cfg: cfg, registry: venue.Registry{}}
	intervals := make(map[string]float64, len(order))

	for _, name := range order {
		vc, _ := cfg.Venues.ByName(name)

		d, err := dispatcher.New(dispatcher.FromConfig(name, vc.Dispatcher))
		if err != nil {
			return nil, err
		}
		raw, err := newAdapter(name, *vc, cfg.Reader.Timeout)
		if err != nil {
			return nil, err
		}

		v := venue.NewThrottled(raw, d, cfg.Reader.Timeout)
		a.registry[name] = v
		a.dispatchers = append(a.dispatchers, d)
		a.sources = append(a.sources, poller.Source{Venue: v, Concurrency: vc.FundingConcurrency})
		intervals[name] = vc.FundingIntervalHours

		log.WithFields(logger.Fields{
			"venue":            name,
			"quote_currency":   vc.QuoteCurrency,
			"symbols":          len(vc.Symbols),
			"interval_hours":   vc.FundingIntervalHours,
			"dispatcher_mode":  vc.Dispatcher.Mode,
			"dispatcher_limit": vc.Dispatcher.Limit,
			"credentials":      vc.HasCredentials(),
		}).Info("venue configured")
	}

	a.normalizer = funding.NewNormalizer(intervals)
	a.matcher = matcher.New(cfg.Matcher, a.registry)
	a.coordinator = coordinator.New(cfg.Trading, a.registry)
	return a, nil
}

func newAdapter(name string, vc config.VenueConfig, timeout time.Duration) (venue.Venue, error) {
	switch name {
	case config.VenueBinance:
		return binance.New(vc, timeout), nil
	case config.VenueBybit:
		return bybit.New(vc, timeout), nil
	case config.VenueBitget:
		return bitget.New(vc, timeout), nil
	}
	return nil, fmt.Errorf("unknown venue %q", name)
}

// openBook connects the position store, or returns nil when redis is off.
func openBook(ctx context.Context, cfg config.RedisConfig) (*positions.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return positions.NewStore(ctx, cfg)
}

func (a *app) poller(pub poller.Publisher) *poller.Poller {
	return poller.New(a.sources, a.normalizer, a.matcher, pub, a.cfg.Poller.Interval)
}

// venueOrder lists enabled venues in the configured fold order followed by
// the remaining enabled venues in their given order. Unknown or disabled
// entries are skipped.
func venueOrder(preferred, enabled []string) []string {
	isEnabled := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		isEnabled[name] = true
	}

	seen := make(map[string]bool, len(enabled))
	out := make([]string, 0, len(enabled))
	for _, name := range preferred {
		name = strings.ToLower(strings.TrimSpace(name))
		if isEnabled[name] && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range enabled {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// parseLegs parses a comma separated list of venue:symbol:id legs.
func parseLegs(raw string) ([]models.Leg, error) {
	var legs []models.Leg
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		leg, err := models.ParseLeg(part)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg)
	}
	if len(legs) == 0 {
		return nil, fmt.Errorf("no legs given")
	}
	return legs, nil
}

// pickCandidate returns the candidate for asset, or the best one when asset
// is empty.
func pickCandidate(candidates []models.ArbitrageCandidate, asset string) (models.ArbitrageCandidate, error) {
	if len(candidates) == 0 {
		return models.ArbitrageCandidate{}, fmt.Errorf("no arbitrage candidates this cycle")
	}
	if asset == "" {
		return candidates[0], nil
	}
	asset = strings.ToUpper(strings.TrimSpace(asset))
	for _, c := range candidates {
		if c.BaseCurrency == asset {
			return c, nil
		}
	}
	return models.ArbitrageCandidate{}, fmt.Errorf("no candidate for %s this cycle", asset)
}

func legsString(results []models.OrderResult) string {
	legs := make([]models.Leg, 0, len(results))
	for _, r := range results {
		legs = append(legs, models.LegOf(r))
	}
	return joinLegs(legs)
}

// joinLegs renders legs in the -legs flag format.
func joinLegs(legs []models.Leg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		parts = append(parts, l.String())
	}
	return strings.Join(parts, ",")
}

// Package poller runs funding-rate collection cycles across venues.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fundingarb/internal/dispatcher"
	"fundingarb/internal/funding"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

// ErrInsufficientVenues means fewer than two venues produced quotes, so no
// cross-venue candidate can exist.
var ErrInsufficientVenues = errors.New("fewer than two venues produced quotes")

const defaultFundingConcurrency = 4

// Matcher ranks a cycle's quotes.
type Matcher interface {
	Match(ctx context.Context, quotes []models.VenueQuotes) ([]models.ArbitrageCandidate, []models.EnrichFailure)
}

// Publisher receives finished cycle reports.
type Publisher interface {
	Publish(ctx context.Context, report models.CycleReport) int
}

// Source is a venue plus how many funding lookups may run at once on it.
type Source struct {
	Venue       venue.Venue
	Concurrency int
}

// Poller collects quotes from every source, folds them and ranks the
// candidates. Sources are folded in the order given.
type Poller struct {
	sources    []Source
	normalizer *funding.Normalizer
	matcher    Matcher
	publisher  Publisher
	interval   time.Duration
	log        *logger.Log
}

// New builds a Poller. publisher may be nil.
func New(sources []Source, normalizer *funding.Normalizer, m Matcher, publisher Publisher, interval time.Duration) *Poller {
	return &Poller{
		sources:    sources,
		normalizer: normalizer,
		matcher:    m,
		publisher:  publisher,
		interval:   interval,
		log:        logger.GetLogger(),
	}
}

type venueResult struct {
	quotes   []models.FundingQuote
	excluded []models.ExcludedSymbol
	err      error
}

// Cycle runs one polling cycle. The report is returned even when the cycle
// fails so its diagnostics can be inspected.
func (p *Poller) Cycle(ctx context.Context) (models.CycleReport, error) {
	report := models.CycleReport{CycleID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := p.log.WithComponent("poller").WithField("cycle_id", report.CycleID)
	log.Info("polling cycle started")

	results := make([]venueResult, len(p.sources))
	var g errgroup.Group
	for i, src := range p.sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = p.collect(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	producing := 0
	for i, src := range p.sources {
		name := src.Venue.Name()
		r := results[i]
		report.Diagnostics.Excluded = append(report.Diagnostics.Excluded, r.excluded...)
		metrics.QuotesCollected.WithLabelValues(name).Set(float64(len(r.quotes)))

		if r.err != nil {
			report.Diagnostics.FailedVenues = append(report.Diagnostics.FailedVenues, models.VenueFailure{Venue: name, Err: r.err.Error()})
			log.WithError(r.err).WithField("venue", name).Warn("venue failed this cycle")
			continue
		}
		if len(r.quotes) > 0 {
			producing++
		}
		report.Quotes = append(report.Quotes, models.VenueQuotes{Venue: name, Quotes: r.quotes})
	}

	if err := ctx.Err(); err != nil {
		return p.finish(ctx, report, err)
	}
	if producing < 2 {
		return p.finish(ctx, report, fmt.Errorf("%w: %d producing", ErrInsufficientVenues, producing))
	}

	candidates, failures := p.matcher.Match(ctx, report.Quotes)
	report.Candidates = candidates
	report.Diagnostics.EnrichFailures = failures
	return p.finish(ctx, report, nil)
}

// collect lists a venue's instruments and looks up every funding rate,
// isolating per-symbol failures.
func (p *Poller) collect(ctx context.Context, src Source) venueResult {
	name := src.Venue.Name()
	start := time.Now()

	instruments, err := src.Venue.ListInstruments(ctx)
	if err != nil {
		return venueResult{err: err}
	}

	limit := src.Concurrency
	if limit <= 0 {
		limit = defaultFundingConcurrency
	}
	settled := dispatcher.SettleAll(ctx, instruments, limit, func(ctx context.Context, inst models.Instrument) (models.FundingQuote, error) {
		raw, err := src.Venue.GetFundingRate(ctx, inst.Symbol)
		if err != nil {
			return models.FundingQuote{}, err
		}
		return p.normalizer.Normalize(inst, raw), nil
	})
	quotes, failed := dispatcher.Split(settled)

	res := venueResult{quotes: quotes}
	for _, f := range failed {
		res.excluded = append(res.excluded, models.ExcludedSymbol{Venue: name, Symbol: f.Key.Symbol, Err: f.Err.Error()})
	}

	entry := p.log.WithComponent("poller").WithField("venue", name)
	logger.LogPerformanceEntry(entry, "poller", "collect", time.Since(start), logger.Fields{
		"instruments": len(instruments),
		"quotes":      len(quotes),
		"excluded":    len(failed),
	})
	logger.LogDataFlowEntry(entry, name+"_venue", "matcher", len(quotes), "funding_quotes")
	return res
}

func (p *Poller) finish(ctx context.Context, report models.CycleReport, err error) (models.CycleReport, error) {
	report.Duration = time.Since(report.StartedAt)
	log := p.log.WithComponent("poller")

	fields := logger.Fields{
		"cycle_id":        report.CycleID,
		"quotes":          report.QuoteCount(),
		"candidates":      len(report.Candidates),
		"excluded":        len(report.Diagnostics.Excluded),
		"failed_venues":   len(report.Diagnostics.FailedVenues),
		"enrich_failures": len(report.Diagnostics.EnrichFailures),
		"duration_ms":     report.Duration.Milliseconds(),
	}

	metrics.CycleDuration.Observe(report.Duration.Seconds())
	metrics.EmitMetric(p.log, "poller", "cycle_duration_ms", report.Duration.Milliseconds(), "gauge", nil)
	metrics.EmitMetric(p.log, "poller", "quotes_collected", report.QuoteCount(), "gauge", nil)
	metrics.EmitMetric(p.log, "poller", "venue_failures", len(report.Diagnostics.FailedVenues), "counter", nil)
	metrics.EmitMetric(p.log, "poller", "symbols_excluded", len(report.Diagnostics.Excluded), "counter", nil)

	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		log.WithError(err).WithFields(fields).Error("polling cycle failed")
		return report, err
	}

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.CandidatesRanked.Set(float64(len(report.Candidates)))
	metrics.EmitMetric(p.log, "poller", "candidates_ranked", len(report.Candidates), "gauge", nil)
	if len(report.Candidates) > 0 {
		metrics.BestAPR.Set(report.Candidates[0].ResultingAPR)
		fields["best_asset"] = report.Candidates[0].BaseCurrency
		fields["best_apr"] = report.Candidates[0].ResultingAPR
	}
	log.WithFields(fields).Info("polling cycle finished")

	if p.publisher != nil {
		p.publisher.Publish(ctx, report)
	}
	return report, nil
}

// Run executes a cycle immediately and then every interval until ctx ends.
// Failed cycles are logged and do not stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("poller interval must be greater than 0")
	}
	log := p.log.WithComponent("poller")
	log.WithFields(logger.Fields{
		"interval": p.interval.String(),
		"venues":   len(p.sources),
	}).Info("poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_, _ = p.Cycle(ctx)
		select {
		case <-ctx.Done():
			log.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

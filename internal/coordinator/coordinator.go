// Package coordinator turns a ranked candidate into a pair of opposite
// orders and flattens previously opened legs.
//
// Neither path is atomic. The long leg is placed before the short leg and
// nothing is rolled back when the second order fails; the caller receives a
// *PartialExecutionError listing the orders that did go through.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fundingarb/config"
	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/internal/pricing"
	"fundingarb/internal/symbols"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

// DefaultNotional is used when neither the caller nor the config sets one.
const DefaultNotional = 100.0

const dryRunOrderID = "dry-run"

var (
	ErrIncompleteCandidate = errors.New("candidate is not tradeable")
	ErrSizeTooSmall        = errors.New("order size rounds to zero")
	ErrPartialExecution    = errors.New("partial execution")
	ErrNoLegs              = errors.New("no legs to close")
)

// PartialExecutionError reports orders that went through before a later
// order failed. On close, Remaining lists the legs that were not flattened.
type PartialExecutionError struct {
	Placed    []models.OrderResult
	Remaining []models.Leg
	Err       error
}

func (e *PartialExecutionError) Error() string {
	ids := make([]string, 0, len(e.Placed))
	for _, p := range e.Placed {
		ids = append(ids, p.Venue+":"+p.Symbol+":"+p.ExternalOrderID)
	}
	return fmt.Sprintf("%v after placing [%s]: %v", ErrPartialExecution, strings.Join(ids, ", "), e.Err)
}

func (e *PartialExecutionError) Is(target error) bool { return target == ErrPartialExecution }

func (e *PartialExecutionError) Unwrap() error { return e.Err }

// Venues resolves a venue by name.
type Venues interface {
	Get(name string) (venue.Venue, error)
}

// Coordinator places and flattens arbitrage legs.
type Coordinator struct {
	venues   Venues
	notional float64
	dryRun   bool
	log      *logger.Log
}

// New builds a Coordinator from the trading config.
func New(cfg config.TradingConfig, venues Venues) *Coordinator {
	notional := cfg.TargetNotional
	if notional <= 0 {
		notional = DefaultNotional
	}
	return &Coordinator{venues: venues, notional: notional, dryRun: cfg.DryRun, log: logger.GetLogger()}
}

// DryRun reports whether orders are only logged.
func (c *Coordinator) DryRun() bool { return c.dryRun }

// Plan prices both legs of cand at the median of the two venues' current
// prices and sizes them as notional / price. A non-positive notional falls
// back to the configured one.
func (c *Coordinator) Plan(ctx context.Context, cand models.ArbitrageCandidate, notional float64) ([]models.OrderIntent, error) {
	if !cand.Complete() {
		return nil, fmt.Errorf("%s: %w", cand.BaseCurrency, ErrIncompleteCandidate)
	}
	if notional <= 0 {
		notional = c.notional
	}

	long, short := *cand.LongMatch, *cand.ShortMatch
	ref, err := c.referencePrice(ctx, []models.Leg{
		{Venue: long.Venue, Symbol: long.Symbol},
		{Venue: short.Venue, Symbol: short.Symbol},
	})
	if err != nil {
		return nil, err
	}
	size, err := sizeFor(notional, ref)
	if err != nil {
		return nil, err
	}

	return []models.OrderIntent{
		{BaseCurrency: cand.BaseCurrency, Venue: long.Venue, Symbol: long.Symbol, Side: sideFor(long.ReceivingSide), Price: ref, Size: size},
		{BaseCurrency: cand.BaseCurrency, Venue: short.Venue, Symbol: short.Symbol, Side: sideFor(short.ReceivingSide), Price: ref, Size: size},
	}, nil
}

// Open plans and places both legs, long venue first.
func (c *Coordinator) Open(ctx context.Context, cand models.ArbitrageCandidate, notional float64) ([]models.OrderResult, error) {
	intents, err := c.Plan(ctx, cand, notional)
	if err != nil {
		return nil, err
	}

	c.log.WithComponent("coordinator").WithFields(logger.Fields{
		"base_currency": cand.BaseCurrency,
		"long_venue":    cand.LongMatch.Venue,
		"short_venue":   cand.ShortMatch.Venue,
		"resulting_apr": cand.ResultingAPR,
		"price":         intents[0].Price,
		"size":          intents[0].Size,
		"dry_run":       c.dryRun,
	}).Info("opening arbitrage position")

	return c.placeAll(ctx, intents)
}

// Close re-reads each leg's order, prices a fresh reference across the leg
// venues and places the inverse order on every leg that has a filled size.
// Simulated legs are never read from the venue: they are flattened from the
// side and size recorded with them in dry-run mode, and skipped otherwise.
func (c *Coordinator) Close(ctx context.Context, legs []models.Leg) ([]models.OrderResult, error) {
	if len(legs) == 0 {
		return nil, ErrNoLegs
	}
	if len(legs) > 2 {
		return nil, fmt.Errorf("close supports one or two legs, got %d", len(legs))
	}
	log := c.log.WithComponent("coordinator")

	infos := make([]models.OrderInfo, len(legs))
	for i, leg := range legs {
		if leg.ExternalOrderID == dryRunOrderID {
			infos[i] = models.OrderInfo{Side: leg.Side, Status: dryRunOrderID}
			if c.dryRun && leg.Side != "" {
				infos[i].Size = leg.Size
			}
			continue
		}
		v, err := c.venues.Get(leg.Venue)
		if err != nil {
			return nil, err
		}
		info, err := v.GetOrder(ctx, leg.Symbol, leg.ExternalOrderID)
		if err != nil {
			return nil, fmt.Errorf("leg %s: %w", leg, err)
		}
		infos[i] = info
	}

	ref, err := c.referencePrice(ctx, legs)
	if err != nil {
		return nil, err
	}

	var (
		intents []models.OrderIntent
		flatten []int
	)
	for i, leg := range legs {
		filled, err := pricing.Float(infos[i].Size)
		if err != nil || filled <= 0 {
			log.WithFields(logger.Fields{
				"leg":    leg.String(),
				"status": infos[i].Status,
				"size":   infos[i].Size,
			}).Warn("leg has no filled size, nothing to flatten")
			continue
		}
		intents = append(intents, models.OrderIntent{
			BaseCurrency: baseOf(leg),
			Venue:        leg.Venue,
			Symbol:       leg.Symbol,
			Side:         infos[i].Side.Opposite(),
			Price:        ref,
			Size:         infos[i].Size,
		})
		flatten = append(flatten, i)
	}
	if len(intents) == 0 {
		return nil, nil
	}

	log.WithFields(logger.Fields{
		"base_currency": intents[0].BaseCurrency,
		"legs":          len(intents),
		"price":         ref,
		"dry_run":       c.dryRun,
	}).Info("closing arbitrage position")

	placed, err := c.placeAll(ctx, intents)
	var partial *PartialExecutionError
	if errors.As(err, &partial) {
		done := make(map[int]bool, len(placed))
		for _, i := range flatten[:len(placed)] {
			done[i] = true
		}
		for i, leg := range legs {
			if !done[i] {
				partial.Remaining = append(partial.Remaining, leg)
			}
		}
	}
	return placed, err
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "USD"}

// baseOf is the leg's recorded base currency, or one inferred from a
// concatenated symbol.
func baseOf(leg models.Leg) string {
	if leg.BaseCurrency != "" {
		return leg.BaseCurrency
	}
	for _, q := range quoteSuffixes {
		if base := symbols.BaseFromSymbol(leg.Symbol, q); base != "" {
			return base
		}
	}
	return ""
}

func (c *Coordinator) placeAll(ctx context.Context, intents []models.OrderIntent) ([]models.OrderResult, error) {
	log := c.log.WithComponent("coordinator")
	placed := make([]models.OrderResult, 0, len(intents))

	for _, intent := range intents {
		entry := log.WithFields(logger.Fields{
			"venue":  intent.Venue,
			"symbol": intent.Symbol,
			"side":   intent.Side,
			"price":  intent.Price,
			"size":   intent.Size,
		})

		if c.dryRun {
			entry.Info("dry run, order not placed")
			metrics.OrdersTotal.WithLabelValues(intent.Venue, string(intent.Side), "dry_run").Inc()
			placed = append(placed, models.OrderResult{Venue: intent.Venue, Symbol: intent.Symbol, ExternalOrderID: dryRunOrderID, Intent: intent})
			continue
		}

		id, err := c.place(ctx, intent)
		if err != nil {
			metrics.OrdersTotal.WithLabelValues(intent.Venue, string(intent.Side), "failed").Inc()
			entry.WithError(err).Error("order failed")
			if len(placed) > 0 {
				return placed, &PartialExecutionError{Placed: placed, Err: err}
			}
			return nil, err
		}

		metrics.OrdersTotal.WithLabelValues(intent.Venue, string(intent.Side), "placed").Inc()
		entry.WithField("order_id", id).Info("order placed")
		placed = append(placed, models.OrderResult{Venue: intent.Venue, Symbol: intent.Symbol, ExternalOrderID: id, Intent: intent})
	}
	return placed, nil
}

func (c *Coordinator) place(ctx context.Context, intent models.OrderIntent) (string, error) {
	v, err := c.venues.Get(intent.Venue)
	if err != nil {
		return "", err
	}
	return v.PlaceOrder(ctx, intent)
}

// referencePrice is the median of the legs' current prices, or the single
// leg's price.
func (c *Coordinator) referencePrice(ctx context.Context, legs []models.Leg) (string, error) {
	prices := make([]string, len(legs))
	for i, leg := range legs {
		v, err := c.venues.Get(leg.Venue)
		if err != nil {
			return "", err
		}
		p, err := v.GetSimplePrice(ctx, leg.Symbol)
		if err != nil {
			return "", fmt.Errorf("%s %s price: %w", leg.Venue, leg.Symbol, err)
		}
		prices[i] = p
	}
	if len(prices) == 1 {
		if _, err := pricing.Float(prices[0]); err != nil {
			return "", err
		}
		return prices[0], nil
	}
	return pricing.Median(prices[0], prices[1])
}

func sizeFor(notional float64, price string) (string, error) {
	p, err := pricing.Float(price)
	if err != nil {
		return "", err
	}
	size := pricing.FormatSize(notional / p)
	if f, _ := pricing.Float(size); f <= 0 {
		return "", fmt.Errorf("%w: notional %.2f at price %s", ErrSizeTooSmall, notional, price)
	}
	return size, nil
}

// sideFor returns the order side that opens a position on s.
func sideFor(s models.Side) models.OrderSide {
	if s == models.Short {
		return models.Sell
	}
	return models.Buy
}

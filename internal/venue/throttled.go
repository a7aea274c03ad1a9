package venue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fundingarb/internal/dispatcher"
	"fundingarb/internal/metrics"
	"fundingarb/internal/metrics/rate"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

// Throttled routes every call of a Venue through its Dispatcher and bounds
// each call with a timeout.
type Throttled struct {
	next    Venue
	d       *dispatcher.Dispatcher
	timeout time.Duration
	log     *logger.Log
}

// NewThrottled decorates v. A zero timeout leaves calls bounded only by the
// caller's context.
func NewThrottled(v Venue, d *dispatcher.Dispatcher, timeout time.Duration) *Throttled {
	return &Throttled{next: v, d: d, timeout: timeout, log: logger.GetLogger()}
}

func (t *Throttled) Name() string { return t.next.Name() }

// Unwrap returns the decorated adapter.
func (t *Throttled) Unwrap() Venue { return t.next }

func (t *Throttled) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	return call(ctx, t, "list_instruments", "", func(ctx context.Context) ([]models.Instrument, error) {
		return t.next.ListInstruments(ctx)
	})
}

func (t *Throttled) GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error) {
	return call(ctx, t, "funding_rate", symbol, func(ctx context.Context) (models.RawFunding, error) {
		return t.next.GetFundingRate(ctx, symbol)
	})
}

func (t *Throttled) GetSimplePrice(ctx context.Context, symbol string) (string, error) {
	return call(ctx, t, "price", symbol, func(ctx context.Context) (string, error) {
		return t.next.GetSimplePrice(ctx, symbol)
	})
}

func (t *Throttled) GetVolume24h(ctx context.Context, symbol string) (string, error) {
	return call(ctx, t, "volume", symbol, func(ctx context.Context) (string, error) {
		return t.next.GetVolume24h(ctx, symbol)
	})
}

func (t *Throttled) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	return call(ctx, t, "place_order", intent.Symbol, func(ctx context.Context) (string, error) {
		return t.next.PlaceOrder(ctx, intent)
	})
}

func (t *Throttled) GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error) {
	return call(ctx, t, "get_order", symbol, func(ctx context.Context) (models.OrderInfo, error) {
		return t.next.GetOrder(ctx, symbol, orderID)
	})
}

func call[T any](ctx context.Context, t *Throttled, op, symbol string, fn func(context.Context) (T, error)) (T, error) {
	name := t.next.Name()
	start := time.Now()

	v, err := dispatcher.Submit(ctx, t.d, func(ctx context.Context) (T, error) {
		if t.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}
		v, err := fn(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrVenueUnavailable) {
			err = fmt.Errorf("%s %s: %w: timed out after %s", name, op, ErrVenueUnavailable, t.timeout)
		}
		return v, err
	})

	entry := t.log.WithComponent(name + "_venue").WithFields(logger.Fields{
		"operation": op,
		"symbol":    symbol,
	})
	logger.LogPerformanceEntry(entry, name+"_venue", op, time.Since(start), nil)

	if err == nil {
		return v, nil
	}
	metrics.VenueErrors.WithLabelValues(name, op).Inc()
	if !errors.Is(err, ErrRateLimited) && rate.ReportLimitFromMessage(t.log, name, symbol, op, err.Error()) != rate.LimitNone {
		err = fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return v, err
}

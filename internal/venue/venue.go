// Package venue defines the capability set every exchange adapter provides
// and the errors they report.
package venue

import (
	"context"
	"errors"
	"fmt"

	"fundingarb/internal/models"
)

var (
	// ErrVenueUnavailable covers transport failures, timeouts and
	// non-success response codes.
	ErrVenueUnavailable = errors.New("venue unavailable")
	// ErrRateLimited is a venue throttling response. It also matches
	// ErrVenueUnavailable.
	ErrRateLimited = fmt.Errorf("rate limited: %w", ErrVenueUnavailable)
	// ErrSymbolNotFound means the venue returned no entry for a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrAmbiguousSymbol means the venue returned more than one entry for a symbol.
	ErrAmbiguousSymbol = errors.New("ambiguous symbol")
	// ErrMalformedResponse is an unexpected payload shape.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrOrderRejected matches every *OrderRejectedError.
	ErrOrderRejected = errors.New("order rejected")
)

// OrderRejectedError carries the reason a venue gave for declining an order.
type OrderRejectedError struct {
	Venue  string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("%s: order rejected: %s", e.Venue, e.Reason)
}

func (e *OrderRejectedError) Is(target error) bool {
	return target == ErrOrderRejected
}

// Venue is one exchange's perpetual futures market.
type Venue interface {
	Name() string
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error)
	GetSimplePrice(ctx context.Context, symbol string) (string, error)
	GetVolume24h(ctx context.Context, symbol string) (string, error)
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error)
	GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error)
}

// Unavailable wraps err as ErrVenueUnavailable for venue.
func Unavailable(venue, op string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", venue, op, ErrVenueUnavailable, err)
}

// Malformed wraps err as ErrMalformedResponse for venue.
func Malformed(venue, op string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", venue, op, ErrMalformedResponse, err)
}

// ExactlyOne enforces the single-match rule for symbol lookups.
func ExactlyOne(venue, symbol string, n int) error {
	switch {
	case n == 0:
		return fmt.Errorf("%s %s: %w", venue, symbol, ErrSymbolNotFound)
	case n > 1:
		return fmt.Errorf("%s %s: %w (%d entries)", venue, symbol, ErrAmbiguousSymbol, n)
	}
	return nil
}

// Registry looks venues up by name.
type Registry map[string]Venue

// NewRegistry indexes venues by Name.
func NewRegistry(venues ...Venue) Registry {
	r := make(Registry, len(venues))
	for _, v := range venues {
		r[v.Name()] = v
	}
	return r
}

// Get returns the named venue.
func (r Registry) Get(name string) (Venue, error) {
	v, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", name)
	}
	return v, nil
}

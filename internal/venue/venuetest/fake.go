// Package venuetest provides an in-memory venue for tests.
package venuetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"fundingarb/internal/models"
	"fundingarb/internal/venue"
)

// Fake is a scriptable venue. Zero maps behave as empty listings.
type Fake struct {
	VenueName   string
	Instruments []models.Instrument
	Funding     map[string]models.RawFunding
	Prices      map[string]string
	Volumes     map[string]string

	ListErr    error
	FundingErr map[string]error
	PriceErr   map[string]error
	OrderErr   error

	mu     sync.Mutex
	nextID int
	Placed []models.OrderIntent
	Orders map[string]models.OrderInfo
	Calls  map[string]int
}

// New returns a Fake named name.
func New(name string) *Fake {
	return &Fake{
		VenueName:  name,
		Funding:    map[string]models.RawFunding{},
		Prices:     map[string]string{},
		Volumes:    map[string]string{},
		FundingErr: map[string]error{},
		PriceErr:   map[string]error{},
		Orders:     map[string]models.OrderInfo{},
		Calls:      map[string]int{},
	}
}

// AddInstrument lists symbol with its funding rate and price.
func (f *Fake) AddInstrument(symbol, base string, rate float64, price string) *Fake {
	f.Instruments = append(f.Instruments, models.Instrument{
		Symbol:        symbol,
		BaseCurrency:  base,
		QuoteCurrency: "USDT",
		Venue:         f.VenueName,
	})
	f.Funding[symbol] = models.RawFunding{Symbol: symbol, Rate: rate}
	f.Prices[symbol] = price
	f.Volumes[symbol] = "1000000"
	return f
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Calls == nil {
		f.Calls = map[string]int{}
	}
	f.Calls[op]++
}

// CallCount returns how often op was invoked.
func (f *Fake) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[op]
}

func (f *Fake) Name() string { return f.VenueName }

func (f *Fake) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	f.count("list")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]models.Instrument(nil), f.Instruments...), nil
}

func (f *Fake) GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error) {
	f.count("funding")
	if err := f.FundingErr[symbol]; err != nil {
		return models.RawFunding{}, err
	}
	raw, ok := f.Funding[symbol]
	if !ok {
		return models.RawFunding{}, fmt.Errorf("%s %s: %w", f.VenueName, symbol, venue.ErrSymbolNotFound)
	}
	return raw, nil
}

func (f *Fake) GetSimplePrice(ctx context.Context, symbol string) (string, error) {
	f.count("price")
	if err := f.PriceErr[symbol]; err != nil {
		return "", err
	}
	p, ok := f.Prices[symbol]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", f.VenueName, symbol, venue.ErrSymbolNotFound)
	}
	return p, nil
}

func (f *Fake) GetVolume24h(ctx context.Context, symbol string) (string, error) {
	f.count("volume")
	v, ok := f.Volumes[symbol]
	if !ok {
		return "", fmt.Errorf("%s %s: %w", f.VenueName, symbol, venue.ErrSymbolNotFound)
	}
	return v, nil
}

func (f *Fake) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	f.count("place")
	if f.OrderErr != nil {
		return "", f.OrderErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.VenueName + "-" + strconv.Itoa(f.nextID)
	f.Placed = append(f.Placed, intent)
	if f.Orders == nil {
		f.Orders = map[string]models.OrderInfo{}
	}
	f.Orders[id] = models.OrderInfo{Side: intent.Side, Size: intent.Size, Status: "NEW"}
	return id, nil
}

func (f *Fake) GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error) {
	f.count("get_order")
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Orders[orderID]
	if !ok {
		return models.OrderInfo{}, fmt.Errorf("%s order %s: %w", f.VenueName, orderID, venue.ErrSymbolNotFound)
	}
	return info, nil
}

// PlacedOrders returns a copy of every intent placed so far.
func (f *Fake) PlacedOrders() []models.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderIntent(nil), f.Placed...)
}

var _ venue.Venue = (*Fake)(nil)

// Package bybit adapts Bybit v5 linear perpetuals to venue.Venue.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/symbols"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

const (
	name     = config.VenueBybit
	category = "linear"
	pageSize = 1000
)

type instrumentsResult struct {
	List []struct {
		Symbol          string `json:"symbol"`
		ContractType    string `json:"contractType"`
		Status          string `json:"status"`
		BaseCoin        string `json:"baseCoin"`
		QuoteCoin       string `json:"quoteCoin"`
		FundingInterval int    `json:"fundingInterval"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

type ticker struct {
	Symbol              string `json:"symbol"`
	LastPrice           string `json:"lastPrice"`
	FundingRate         string `json:"fundingRate"`
	NextFundingTime     string `json:"nextFundingTime"`
	FundingIntervalHour string `json:"fundingIntervalHour"`
	Turnover24h         string `json:"turnover24h"`
}

type tickersResult struct {
	List []ticker `json:"list"`
}

type placeOrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type ordersResult struct {
	List []struct {
		OrderID     string `json:"orderId"`
		Side        string `json:"side"`
		Qty         string `json:"qty"`
		CumExecQty  string `json:"cumExecQty"`
		OrderStatus string `json:"orderStatus"`
	} `json:"list"`
}

// Venue talks to Bybit through bybit.go.api.
type Venue struct {
	api api
	cfg config.VenueConfig
	log *logger.Log

	mu        sync.RWMutex
	intervals map[string]float64
}

// New builds the adapter on the official SDK client.
func New(cfg config.VenueConfig, timeout time.Duration) *Venue {
	return newVenue(newSDK(cfg, timeout), cfg)
}

func newVenue(a api, cfg config.VenueConfig) *Venue {
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}
	v := &Venue{api: a, cfg: cfg, log: logger.GetLogger(), intervals: make(map[string]float64)}
	v.log.WithComponent("bybit_venue").WithFields(logger.Fields{
		"quote_currency":  cfg.QuoteCurrency,
		"has_credentials": cfg.HasCredentials(),
	}).Info("bybit venue initialized")
	return v
}

func (v *Venue) Name() string { return name }

// ListInstruments pages through the linear instrument catalog and records
// each contract's funding interval.
func (v *Venue) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var out []models.Instrument
	intervals := make(map[string]float64)
	cursor := ""

	for {
		params := map[string]interface{}{"category": category, "limit": pageSize}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var res instrumentsResult
		if err := v.query(ctx, "instruments_info", v.api.Instruments, params, &res); err != nil {
			return nil, err
		}
		for _, s := range res.List {
			if s.ContractType != "LinearPerpetual" || s.Status != "Trading" {
				continue
			}
			if !strings.EqualFold(s.QuoteCoin, v.cfg.QuoteCurrency) || !symbols.Allowed(s.Symbol, v.cfg.Symbols) {
				continue
			}
			if s.FundingInterval > 0 {
				intervals[s.Symbol] = float64(s.FundingInterval) / 60
			}
			out = append(out, models.Instrument{
				Symbol:        s.Symbol,
				BaseCurrency:  symbols.CanonicalBase(name, s.BaseCoin),
				QuoteCurrency: s.QuoteCoin,
				Venue:         name,
			})
		}
		if res.NextPageCursor == "" || len(res.List) == 0 {
			break
		}
		cursor = res.NextPageCursor
	}

	v.mu.Lock()
	v.intervals = intervals
	v.mu.Unlock()

	v.log.WithComponent("bybit_venue").WithField("instruments", len(out)).Debug("instruments listed")
	return out, nil
}

func (v *Venue) GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error) {
	t, err := v.ticker(ctx, symbol)
	if err != nil {
		return models.RawFunding{}, err
	}
	rate, err := strconv.ParseFloat(t.FundingRate, 64)
	if err != nil {
		return models.RawFunding{}, venue.Malformed(name, "tickers", err)
	}

	raw := models.RawFunding{Symbol: symbol, Rate: rate}
	if h, err := strconv.ParseFloat(t.FundingIntervalHour, 64); err == nil && h > 0 {
		raw.IntervalHours = h
	} else {
		v.mu.RLock()
		raw.IntervalHours = v.intervals[symbol]
		v.mu.RUnlock()
	}
	if ms, err := strconv.ParseInt(t.NextFundingTime, 10, 64); err == nil && ms > 0 {
		raw.NextFundingTime = time.UnixMilli(ms).UTC()
	}
	return raw, nil
}

func (v *Venue) GetSimplePrice(ctx context.Context, symbol string) (string, error) {
	t, err := v.ticker(ctx, symbol)
	if err != nil {
		return "", err
	}
	return t.LastPrice, nil
}

// GetVolume24h returns the 24h turnover in the quote coin.
func (v *Venue) GetVolume24h(ctx context.Context, symbol string) (string, error) {
	t, err := v.ticker(ctx, symbol)
	if err != nil {
		return "", err
	}
	return t.Turnover24h, nil
}

func (v *Venue) ticker(ctx context.Context, symbol string) (ticker, error) {
	var res tickersResult
	params := map[string]interface{}{"category": category, "symbol": symbol}
	if err := v.query(ctx, "tickers", v.api.Tickers, params, &res); err != nil {
		return ticker{}, err
	}
	var match []ticker
	for _, t := range res.List {
		if t.Symbol == symbol {
			match = append(match, t)
		}
	}
	if err := venue.ExactlyOne(name, symbol, len(match)); err != nil {
		return ticker{}, err
	}
	return match[0], nil
}

func (v *Venue) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	side := "Buy"
	if intent.Side == models.Sell {
		side = "Sell"
	}
	params := map[string]interface{}{
		"category":    category,
		"symbol":      intent.Symbol,
		"side":        side,
		"orderType":   "Limit",
		"qty":         intent.Size,
		"price":       intent.Price,
		"timeInForce": "GTC",
		"orderLinkId": uuid.NewString(),
	}

	env, err := v.api.PlaceOrder(ctx, params)
	if err != nil {
		return "", venue.Unavailable(name, "place_order", err)
	}
	if env.Code != 0 {
		return "", &venue.OrderRejectedError{Venue: name, Reason: fmt.Sprintf("%d %s", env.Code, env.Msg)}
	}
	var res placeOrderResult
	if err := json.Unmarshal(env.Result, &res); err != nil || res.OrderID == "" {
		return "", venue.Malformed(name, "place_order", fmt.Errorf("missing order id: %s", env.Result))
	}
	return res.OrderID, nil
}

// GetOrder looks the order up among realtime orders first, then history.
func (v *Venue) GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error) {
	params := map[string]interface{}{"category": category, "symbol": symbol, "orderId": orderID}

	var res ordersResult
	if err := v.query(ctx, "open_orders", v.api.OpenOrders, params, &res); err != nil {
		return models.OrderInfo{}, err
	}
	if len(res.List) == 0 {
		if err := v.query(ctx, "order_history", v.api.OrderHistory, params, &res); err != nil {
			return models.OrderInfo{}, err
		}
	}
	n := 0
	idx := -1
	for i, o := range res.List {
		if o.OrderID == orderID {
			n++
			idx = i
		}
	}
	if err := venue.ExactlyOne(name, symbol+" order "+orderID, n); err != nil {
		return models.OrderInfo{}, err
	}
	o := res.List[idx]
	return models.OrderInfo{
		Side:   models.OrderSide(strings.ToLower(o.Side)),
		Size:   o.CumExecQty,
		Status: o.OrderStatus,
	}, nil
}

func (v *Venue) query(ctx context.Context, op string, fn func(context.Context, map[string]interface{}) (envelope, error), params map[string]interface{}, out interface{}) error {
	env, err := fn(ctx, params)
	if err != nil {
		return venue.Unavailable(name, op, err)
	}
	if env.Code != 0 {
		return venue.Unavailable(name, op, fmt.Errorf("retCode=%d retMsg=%s", env.Code, env.Msg))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return venue.Malformed(name, op, err)
	}
	return nil
}

var _ venue.Venue = (*Venue)(nil)

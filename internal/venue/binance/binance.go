// Package binance adapts Binance USDT-M perpetual futures to venue.Venue.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/symbols"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

const name = config.VenueBinance

// Venue talks to the Binance futures REST API through go-binance.
type Venue struct {
	client *futures.Client
	cfg    config.VenueConfig
	log    *logger.Log
}

// New builds the adapter. timeout bounds the underlying HTTP client.
func New(cfg config.VenueConfig, timeout time.Duration) *Venue {
	log := logger.GetLogger()

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	client.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
	if cfg.BaseURL != "" {
		client.SetApiEndpoint(strings.TrimRight(cfg.BaseURL, "/"))
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}

	log.WithComponent("binance_venue").WithFields(logger.Fields{
		"base_url":        client.BaseURL,
		"quote_currency":  cfg.QuoteCurrency,
		"has_credentials": cfg.HasCredentials(),
	}).Info("binance venue initialized")

	return &Venue{client: client, cfg: cfg, log: log}
}

func (v *Venue) Name() string { return name }

func (v *Venue) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	info, err := v.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, v.wrap("exchange_info", err)
	}

	var out []models.Instrument
	for _, s := range info.Symbols {
		if string(s.ContractType) != "PERPETUAL" || s.Status != "TRADING" {
			continue
		}
		if !strings.EqualFold(s.QuoteAsset, v.cfg.QuoteCurrency) || !symbols.Allowed(s.Symbol, v.cfg.Symbols) {
			continue
		}
		out = append(out, models.Instrument{
			Symbol:        s.Symbol,
			BaseCurrency:  symbols.CanonicalBase(name, s.BaseAsset),
			QuoteCurrency: s.QuoteAsset,
			Venue:         name,
		})
	}

	v.log.WithComponent("binance_venue").WithFields(logger.Fields{
		"listed":      len(info.Symbols),
		"instruments": len(out),
	}).Debug("instruments listed")
	return out, nil
}

func (v *Venue) GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error) {
	list, err := v.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.RawFunding{}, v.wrap("premium_index", err)
	}

	var match []*futures.PremiumIndex
	for _, p := range list {
		if p != nil && p.Symbol == symbol {
			match = append(match, p)
		}
	}
	if err := venue.ExactlyOne(name, symbol, len(match)); err != nil {
		return models.RawFunding{}, err
	}

	rate, err := strconv.ParseFloat(match[0].LastFundingRate, 64)
	if err != nil {
		return models.RawFunding{}, venue.Malformed(name, "premium_index", err)
	}
	raw := models.RawFunding{Symbol: symbol, Rate: rate}
	if match[0].NextFundingTime > 0 {
		raw.NextFundingTime = time.UnixMilli(match[0].NextFundingTime).UTC()
	}
	return raw, nil
}

func (v *Venue) GetSimplePrice(ctx context.Context, symbol string) (string, error) {
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", v.wrap("ticker_price", err)
	}
	var found []string
	for _, p := range prices {
		if p != nil && p.Symbol == symbol {
			found = append(found, p.Price)
		}
	}
	if err := venue.ExactlyOne(name, symbol, len(found)); err != nil {
		return "", err
	}
	return found[0], nil
}

// GetVolume24h returns the 24h quote-asset volume.
func (v *Venue) GetVolume24h(ctx context.Context, symbol string) (string, error) {
	stats, err := v.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return "", v.wrap("ticker_24hr", err)
	}
	var found []string
	for _, s := range stats {
		if s != nil && s.Symbol == symbol {
			found = append(found, s.QuoteVolume)
		}
	}
	if err := venue.ExactlyOne(name, symbol, len(found)); err != nil {
		return "", err
	}
	return found[0], nil
}

func (v *Venue) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	side := futures.SideTypeBuy
	if intent.Side == models.Sell {
		side = futures.SideTypeSell
	}

	resp, err := v.client.NewCreateOrderService().
		Symbol(intent.Symbol).
		Side(side).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(intent.Size).
		Price(intent.Price).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return "", &venue.OrderRejectedError{Venue: name, Reason: apiErr.Message}
		}
		return "", v.wrap("create_order", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// GetOrder reports the filled size of an order.
func (v *Venue) GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return models.OrderInfo{}, venue.Malformed(name, "get_order", err)
	}
	o, err := v.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return models.OrderInfo{}, v.wrap("get_order", err)
	}
	return models.OrderInfo{
		Side:   models.OrderSide(strings.ToLower(string(o.Side))),
		Size:   o.ExecutedQuantity,
		Status: string(o.Status),
	}, nil
}

func (v *Venue) wrap(op string, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return venue.Malformed(name, op, err)
	}
	if common.IsAPIError(err) {
		v.log.WithComponent("binance_venue").WithError(err).WithField("operation", op).Warn("binance api error")
	}
	return venue.Unavailable(name, op, err)
}

var _ venue.Venue = (*Venue)(nil)

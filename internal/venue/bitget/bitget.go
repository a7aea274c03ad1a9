// Package bitget adapts Bitget USDT-M perpetual futures (v2 mix API) to
// venue.Venue.
package bitget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/symbols"
	"fundingarb/internal/venue"
	"fundingarb/logger"
)

const (
	name           = config.VenueBitget
	defaultBaseURL = "https://api.bitget.com"
	productType    = "USDT-FUTURES"
	successCode    = "00000"
	unknownParam   = "40034"

	pathContracts   = "/api/v2/mix/market/contracts"
	pathFundingRate = "/api/v2/mix/market/current-fund-rate"
	pathTicker      = "/api/v2/mix/market/ticker"
	pathPlaceOrder  = "/api/v2/mix/order/place-order"
	pathOrderDetail = "/api/v2/mix/order/detail"
)

// envelope is the common response wrapper.
type envelope struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// apiError is a response whose code is not the success code.
type apiError struct {
	Status int
	Code   string
	Msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("http %d code=%s msg=%s", e.Status, e.Code, e.Msg)
}

type contract struct {
	Symbol       string `json:"symbol"`
	BaseCoin     string `json:"baseCoin"`
	QuoteCoin    string `json:"quoteCoin"`
	SymbolType   string `json:"symbolType"`
	SymbolStatus string `json:"symbolStatus"`
}

type fundingRate struct {
	Symbol              string `json:"symbol"`
	FundingRate         string `json:"fundingRate"`
	FundingRateInterval string `json:"fundingRateInterval"`
	NextUpdate          string `json:"nextUpdate"`
}

type tickerData struct {
	Symbol      string `json:"symbol"`
	LastPr      string `json:"lastPr"`
	QuoteVolume string `json:"quoteVolume"`
	BaseVolume  string `json:"baseVolume"`
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Force       string `json:"force"`
	ClientOid   string `json:"clientOid"`
}

type placeOrderData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type orderDetail struct {
	OrderID    string `json:"orderId"`
	Side       string `json:"side"`
	Size       string `json:"size"`
	BaseVolume string `json:"baseVolume"`
	State      string `json:"state"`
}

// Venue talks to the Bitget REST API directly.
type Venue struct {
	baseURL string
	http    *http.Client
	signer  *signer
	cfg     config.VenueConfig
	log     *logger.Log
}

// New builds the adapter. timeout bounds the underlying HTTP client.
func New(cfg config.VenueConfig, timeout time.Duration) *Venue {
	base := defaultBaseURL
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USDT"
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	v := &Venue{
		baseURL: base,
		http:    &http.Client{Transport: transport, Timeout: timeout},
		signer:  newSigner(cfg.APIKey, cfg.APISecret, cfg.Passphrase),
		cfg:     cfg,
		log:     logger.GetLogger(),
	}

	v.log.WithComponent("bitget_venue").WithFields(logger.Fields{
		"base_url":        base,
		"quote_currency":  cfg.QuoteCurrency,
		"has_credentials": cfg.HasCredentials() && cfg.Passphrase != "",
	}).Info("bitget venue initialized")
	return v
}

func (v *Venue) Name() string { return name }

func (v *Venue) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var list []contract
	q := url.Values{"productType": {productType}}
	if err := v.get(ctx, "contracts", pathContracts, q, false, &list); err != nil {
		return nil, err
	}

	var out []models.Instrument
	for _, c := range list {
		if c.SymbolStatus != "normal" || (c.SymbolType != "" && c.SymbolType != "perpetual") {
			continue
		}
		if !strings.EqualFold(c.QuoteCoin, v.cfg.QuoteCurrency) || !symbols.Allowed(c.Symbol, v.cfg.Symbols) {
			continue
		}
		out = append(out, models.Instrument{
			Symbol:        c.Symbol,
			BaseCurrency:  symbols.CanonicalBase(name, c.BaseCoin),
			QuoteCurrency: c.QuoteCoin,
			Venue:         name,
		})
	}

	v.log.WithComponent("bitget_venue").WithField("instruments", len(out)).Debug("instruments listed")
	return out, nil
}

func (v *Venue) GetFundingRate(ctx context.Context, symbol string) (models.RawFunding, error) {
	var list []fundingRate
	q := url.Values{"symbol": {symbol}, "productType": {productType}}
	if err := v.get(ctx, "current_fund_rate", pathFundingRate, q, false, &list); err != nil {
		return models.RawFunding{}, err
	}
	if err := venue.ExactlyOne(name, symbol, len(list)); err != nil {
		return models.RawFunding{}, err
	}

	rate, err := strconv.ParseFloat(list[0].FundingRate, 64)
	if err != nil {
		return models.RawFunding{}, venue.Malformed(name, "current_fund_rate", err)
	}
	raw := models.RawFunding{Symbol: symbol, Rate: rate}
	if h, err := strconv.ParseFloat(list[0].FundingRateInterval, 64); err == nil && h > 0 {
		raw.IntervalHours = h
	}
	if ms, err := strconv.ParseInt(list[0].NextUpdate, 10, 64); err == nil && ms > 0 {
		raw.NextFundingTime = time.UnixMilli(ms).UTC()
	}
	return raw, nil
}

func (v *Venue) GetSimplePrice(ctx context.Context, symbol string) (string, error) {
	t, err := v.ticker(ctx, symbol)
	if err != nil {
		return "", err
	}
	return t.LastPr, nil
}

// GetVolume24h returns the 24h quote volume.
func (v *Venue) GetVolume24h(ctx context.Context, symbol string) (string, error) {
	t, err := v.ticker(ctx, symbol)
	if err != nil {
		return "", err
	}
	return t.QuoteVolume, nil
}

func (v *Venue) ticker(ctx context.Context, symbol string) (tickerData, error) {
	var list []tickerData
	q := url.Values{"symbol": {symbol}, "productType": {productType}}
	if err := v.get(ctx, "ticker", pathTicker, q, false, &list); err != nil {
		return tickerData{}, err
	}
	if err := venue.ExactlyOne(name, symbol, len(list)); err != nil {
		return tickerData{}, err
	}
	return list[0], nil
}

// PlaceOrder submits a crossed-margin limit order in one-way position mode.
func (v *Venue) PlaceOrder(ctx context.Context, intent models.OrderIntent) (string, error) {
	req := placeOrderRequest{
		Symbol:      intent.Symbol,
		ProductType: productType,
		MarginMode:  "crossed",
		MarginCoin:  strings.ToUpper(v.cfg.QuoteCurrency),
		Size:        intent.Size,
		Price:       intent.Price,
		Side:        string(intent.Side),
		OrderType:   "limit",
		Force:       "gtc",
		ClientOid:   uuid.NewString(),
	}

	var data placeOrderData
	err := v.do(ctx, "place_order", http.MethodPost, pathPlaceOrder, nil, req, true, &data)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return "", &venue.OrderRejectedError{Venue: name, Reason: apiErr.Code + " " + apiErr.Msg}
	}
	if err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", venue.Malformed(name, "place_order", errors.New("missing orderId"))
	}
	return data.OrderID, nil
}

// GetOrder reports the filled size of an order.
func (v *Venue) GetOrder(ctx context.Context, symbol, orderID string) (models.OrderInfo, error) {
	var d orderDetail
	q := url.Values{"symbol": {symbol}, "productType": {productType}, "orderId": {orderID}}
	if err := v.get(ctx, "order_detail", pathOrderDetail, q, true, &d); err != nil {
		return models.OrderInfo{}, err
	}
	if d.OrderID != orderID {
		return models.OrderInfo{}, fmt.Errorf("%s order %s: %w", name, orderID, venue.ErrSymbolNotFound)
	}
	return models.OrderInfo{
		Side:   models.OrderSide(strings.ToLower(d.Side)),
		Size:   d.BaseVolume,
		Status: d.State,
	}, nil
}

func (v *Venue) get(ctx context.Context, op, path string, q url.Values, signed bool, out interface{}) error {
	err := v.do(ctx, op, http.MethodGet, path, q, nil, signed, out)
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if apiErr.Code == unknownParam {
			return fmt.Errorf("%s %s: %w: %s", name, q.Get("symbol"), venue.ErrSymbolNotFound, apiErr.Msg)
		}
		return venue.Unavailable(name, op, apiErr)
	}
	return err
}

// do sends one request and decodes the envelope's data into out. A
// non-success code comes back as *apiError so callers can decide whether
// it is a rejection.
func (v *Venue) do(ctx context.Context, op, method, path string, q url.Values, body interface{}, signed bool, out interface{}) error {
	rawQuery := q.Encode()
	target := v.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s %s: encode body: %w", name, op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, op, err)
	}
	if signed {
		req.Header = v.signer.headers(method, path, rawQuery, payload)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return venue.Unavailable(name, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.Unavailable(name, op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return venue.Unavailable(name, op, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(raw)))
		}
		return venue.Malformed(name, op, err)
	}
	if env.Code != successCode {
		return &apiError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return venue.Malformed(name, op, err)
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

var _ venue.Venue = (*Venue)(nil)

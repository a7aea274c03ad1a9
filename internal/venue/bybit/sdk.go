package bybit

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"fundingarb/config"
)

const defaultBaseURL = "https://api.bybit.com"

// envelope is the part of a v5 response the adapter reads.
type envelope struct {
	Code   int
	Msg    string
	Result json.RawMessage
}

type api interface {
	Instruments(ctx context.Context, params map[string]interface{}) (envelope, error)
	Tickers(ctx context.Context, params map[string]interface{}) (envelope, error)
	PlaceOrder(ctx context.Context, params map[string]interface{}) (envelope, error)
	OpenOrders(ctx context.Context, params map[string]interface{}) (envelope, error)
	OrderHistory(ctx context.Context, params map[string]interface{}) (envelope, error)
}

type sdk struct {
	client *bybit.Client
}

func newSDK(cfg config.VenueConfig, timeout time.Duration) *sdk {
	base := defaultBaseURL
	if cfg.BaseURL != "" {
		base = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := bybit.NewBybitHttpClient(cfg.APIKey, cfg.APISecret, bybit.WithBaseURL(base))
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &sdk{client: client}
}

func (s *sdk) Instruments(ctx context.Context, params map[string]interface{}) (envelope, error) {
	return toEnvelope(s.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx))
}

func (s *sdk) Tickers(ctx context.Context, params map[string]interface{}) (envelope, error) {
	return toEnvelope(s.client.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx))
}

func (s *sdk) PlaceOrder(ctx context.Context, params map[string]interface{}) (envelope, error) {
	return toEnvelope(s.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx))
}

func (s *sdk) OpenOrders(ctx context.Context, params map[string]interface{}) (envelope, error) {
	return toEnvelope(s.client.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx))
}

func (s *sdk) OrderHistory(ctx context.Context, params map[string]interface{}) (envelope, error) {
	return toEnvelope(s.client.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx))
}

// toEnvelope re-encodes the SDK's untyped result so it can be decoded into
// the adapter's own structs.
func toEnvelope(resp *bybit.ServerResponse, err error) (envelope, error) {
	if err != nil {
		return envelope{}, err
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return envelope{}, err
	}
	return envelope{Code: resp.RetCode, Msg: resp.RetMsg, Result: payload}, nil
}

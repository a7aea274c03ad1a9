package symbols

import "testing"

func TestCanonicalBase(t *testing.T) {
	tests := []struct {
		venue string
		in    string
		want  string
	}{
		{"binance", "BTC", "BTC"},
		{"bitget", "xbt", "BTC"},
		{"binance", "1000PEPE", "1000PEPE"},
		{"bybit", "1000PEPE", "1000PEPE"},
		{"bybit", "SHIB1000", "1000SHIB"},
		{"binance", "SHIB1000", "SHIB1000"},
		{"bybit", " eth ", "ETH"},
	}
	for _, tt := range tests {
		if got := CanonicalBase(tt.venue, tt.in); got != tt.want {
			t.Errorf("CanonicalBase(%s,%s)=%s want %s", tt.venue, tt.in, got, tt.want)
		}
	}
}

func TestBaseFromSymbol(t *testing.T) {
	tests := []struct {
		symbol, quote, want string
	}{
		{"BTCUSDT", "USDT", "BTC"},
		{"ethusdt", "usdt", "ETH"},
		{"USDT", "USDT", ""},
		{"BTCUSD", "USDT", ""},
	}
	for _, tt := range tests {
		if got := BaseFromSymbol(tt.symbol, tt.quote); got != tt.want {
			t.Errorf("BaseFromSymbol(%s,%s)=%q want %q", tt.symbol, tt.quote, got, tt.want)
		}
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed("BTCUSDT", nil) {
		t.Error("empty allow-list should allow everything")
	}
	if !Allowed("btcusdt", []string{"BTCUSDT"}) {
		t.Error("match should be case-insensitive")
	}
	if Allowed("ETHUSDT", []string{"BTCUSDT"}) {
		t.Error("unlisted symbol allowed")
	}
}

package symbols

import (
	"regexp"
	"strings"
)

var aliases = map[string]string{
	"XBT": "BTC",
}

// Bybit writes some multiplier contracts with the multiplier last (SHIB1000).
var trailingMultiplier = regexp.MustCompile(`^([A-Z]+?)(1000+)$`)

// CanonicalBase maps a venue's base asset to the name used to match assets
// across venues. Contract multipliers are kept because a 1000PEPE contract
// is priced differently from PEPE.
func CanonicalBase(venue, base string) string {
	base = strings.ToUpper(strings.TrimSpace(base))
	if strings.ToLower(venue) == "bybit" {
		if m := trailingMultiplier.FindStringSubmatch(base); m != nil {
			base = m[2] + m[1]
		}
	}
	if alias, ok := aliases[base]; ok {
		return alias
	}
	return base
}

// BaseFromSymbol strips quote from the end of a concatenated symbol
// ("BTCUSDT", "USDT" -> "BTC"). It returns "" when symbol does not end with
// quote.
func BaseFromSymbol(symbol, quote string) string {
	symbol = strings.ToUpper(symbol)
	quote = strings.ToUpper(quote)
	if quote == "" || !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return ""
	}
	return strings.TrimSuffix(symbol, quote)
}

// Allowed reports whether symbol passes an optional allow-list.
func Allowed(symbol string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, s := range allow {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

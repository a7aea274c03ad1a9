// Package pricing does exact decimal arithmetic on venue price strings.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrice = errors.New("invalid price")
	two             = decimal.NewFromInt(2)
	tenThousand     = decimal.NewFromInt(10000)
)

func parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w %q: %v", ErrInvalidPrice, s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w %q: must be positive", ErrInvalidPrice, s)
	}
	return d, nil
}

// Decimals is the number of fractional digits written in s ("1325.00" -> 2).
func Decimals(s string) int {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// Median is the midpoint of a and b rounded to the coarser precision of the
// two inputs.
func Median(a, b string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	db, err := parse(b)
	if err != nil {
		return "", err
	}
	places := Decimals(a)
	if p := Decimals(b); p < places {
		places = p
	}
	return da.Add(db).Div(two).StringFixed(int32(places)), nil
}

// SpreadBps is |a-b| relative to the exact midpoint, in basis points with
// two decimals.
func SpreadBps(a, b string) (string, error) {
	da, err := parse(a)
	if err != nil {
		return "", err
	}
	db, err := parse(b)
	if err != nil {
		return "", err
	}
	mid := da.Add(db).Div(two)
	return da.Sub(db).Abs().Div(mid).Mul(tenThousand).StringFixed(2), nil
}

// Float parses a price string for size computations.
func Float(s string) (float64, error) {
	d, err := parse(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// FormatSize renders a quantity with two decimals, the precision sizes are
// rounded to.
func FormatSize(size float64) string {
	return decimal.NewFromFloat(size).StringFixed(2)
}

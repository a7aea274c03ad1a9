package pricing

import (
	"errors"
	"testing"
)

func TestMedian(t *testing.T) {
	cases := []struct {
		a, b string
		want string
	}{
		{"1325.00", "1325.02", "1325.01"},
		{"100", "101", "101"},
		{"100.5", "100.25", "100.4"},
		{"0.00012345", "0.00012355", "0.00012350"},
		{"64000.1", "64000.2", "64000.2"},
	}
	for _, c := range cases {
		got, err := Median(c.a, c.b)
		if err != nil {
			t.Fatalf("Median(%s,%s): %v", c.a, c.b, err)
		}
		if got != c.want {
			t.Errorf("Median(%s,%s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestSpreadBps(t *testing.T) {
	cases := []struct {
		a, b string
		want string
	}{
		{"100", "101", "99.50"},
		{"101", "100", "99.50"},
		{"2000", "2000", "0.00"},
		{"1325.00", "1325.02", "0.15"},
	}
	for _, c := range cases {
		got, err := SpreadBps(c.a, c.b)
		if err != nil {
			t.Fatalf("SpreadBps(%s,%s): %v", c.a, c.b, err)
		}
		if got != c.want {
			t.Errorf("SpreadBps(%s,%s) = %s, want %s", c.a, c.b, got, c.want)
		}
	}
}

func TestInvalidPrices(t *testing.T) {
	for _, bad := range []string{"", "abc", "0", "-1"} {
		if _, err := Median(bad, "1"); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("Median(%q) error = %v, want ErrInvalidPrice", bad, err)
		}
		if _, err := SpreadBps("1", bad); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("SpreadBps(%q) error = %v, want ErrInvalidPrice", bad, err)
		}
	}
}

func TestDecimals(t *testing.T) {
	cases := map[string]int{"1325.00": 2, "100": 0, " 0.001 ": 3, "5.": 0}
	for in, want := range cases {
		if got := Decimals(in); got != want {
			t.Errorf("Decimals(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(0.15); got != "0.15" {
		t.Errorf("FormatSize(0.15) = %s", got)
	}
	if got := FormatSize(3); got != "3.00" {
		t.Errorf("FormatSize(3) = %s", got)
	}
}

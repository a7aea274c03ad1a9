package matcher

import (
	"context"
	"errors"
	"testing"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/venue"
	"fundingarb/internal/venue/venuetest"
)

func quote(base string, apr float64, side models.Side) models.FundingQuote {
	return models.FundingQuote{Symbol: base + "USDT", BaseCurrency: base, APR: apr, ReceivingSide: side}
}

func TestAddFundingOccurrence(t *testing.T) {
	var c models.ArbitrageCandidate
	c = AddFundingOccurrence(c, quote("X", 5, models.Long), "a")
	c = AddFundingOccurrence(c, quote("X", 8, models.Short), "b")
	c = AddFundingOccurrence(c, quote("X", 3, models.Long), "c")

	if c.LongMatch == nil || c.LongMatch.Venue != "a" || *c.LongAPR != 5 {
		t.Fatalf("long match = %+v", c.LongMatch)
	}
	if c.ShortMatch == nil || c.ShortMatch.Venue != "b" || *c.ShortAPR != 8 {
		t.Fatalf("short match = %+v", c.ShortMatch)
	}
	if c.ResultingAPR != 13 {
		t.Fatalf("resulting apr = %v, want 13", c.ResultingAPR)
	}
	if len(c.AllMatches) != 3 {
		t.Fatalf("all matches = %d, want 3", len(c.AllMatches))
	}
}

func TestAddFundingOccurrenceDoesNotMutateInput(t *testing.T) {
	base := AddFundingOccurrence(models.ArbitrageCandidate{}, quote("X", 5, models.Long), "a")
	next := AddFundingOccurrence(base, quote("X", 9, models.Long), "b")

	if base.LongMatch.Venue != "a" || *base.LongAPR != 5 || len(base.AllMatches) != 1 {
		t.Fatalf("input candidate was modified: %+v", base)
	}
	if next.LongMatch.Venue != "b" || *next.LongAPR != 9 || len(next.AllMatches) != 2 {
		t.Fatalf("unexpected result: %+v", next)
	}
}

func TestResultingAPRWithOneSide(t *testing.T) {
	c := AddFundingOccurrence(models.ArbitrageCandidate{}, quote("X", 7.5, models.Short), "a")
	if c.ResultingAPR != 7.5 || c.LongAPR != nil {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestTieKeepsFirstOccurrence(t *testing.T) {
	quotes := []models.VenueQuotes{
		{Venue: "a", Quotes: []models.FundingQuote{quote("X", 4, models.Short)}},
		{Venue: "b", Quotes: []models.FundingQuote{quote("X", 4, models.Short)}},
		{Venue: "c", Quotes: []models.FundingQuote{quote("X", 4, models.Short)}},
	}
	for i := 0; i < 3; i++ {
		got := Fold(quotes)
		if got[0].ShortMatch.Venue != "a" {
			t.Fatalf("run %d: tie went to %s", i, got[0].ShortMatch.Venue)
		}
	}
}

func TestFoldIdempotent(t *testing.T) {
	quotes := []models.VenueQuotes{
		{Venue: "a", Quotes: []models.FundingQuote{quote("X", 5, models.Long), quote("Y", 1, models.Short)}},
		{Venue: "b", Quotes: []models.FundingQuote{quote("X", 8, models.Short), quote("Y", 2, models.Long)}},
	}
	first := Fold(quotes)
	second := Fold(quotes)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.BaseCurrency != b.BaseCurrency || a.ResultingAPR != b.ResultingAPR ||
			a.LongMatch.Venue != b.LongMatch.Venue || a.ShortMatch.Venue != b.ShortMatch.Venue {
			t.Fatalf("fold %d differs: %+v vs %+v", i, a, b)
		}
	}
	if first[0].BaseCurrency != "X" || first[1].BaseCurrency != "Y" {
		t.Fatalf("assets not in first-seen order: %s, %s", first[0].BaseCurrency, first[1].BaseCurrency)
	}
}

func TestFoldEndToEnd(t *testing.T) {
	quotes := []models.VenueQuotes{
		{Venue: "venue_a", Quotes: []models.FundingQuote{quote("X", 5, models.Long)}},
		{Venue: "venue_b", Quotes: []models.FundingQuote{quote("X", 8, models.Short)}},
		{Venue: "venue_c", Quotes: []models.FundingQuote{quote("X", 3, models.Long)}},
	}
	ranked := Rank(Fold(quotes), 10)
	if len(ranked) != 1 {
		t.Fatalf("ranked = %d, want 1", len(ranked))
	}
	c := ranked[0]
	if c.LongMatch.Venue != "venue_a" || c.ShortMatch.Venue != "venue_b" || c.ResultingAPR != 13 {
		t.Fatalf("unexpected candidate: long=%s short=%s apr=%v", c.LongMatch.Venue, c.ShortMatch.Venue, c.ResultingAPR)
	}
}

func TestRank(t *testing.T) {
	mk := func(base string, long, short float64, longVenue, shortVenue string) models.ArbitrageCandidate {
		c := AddFundingOccurrence(models.ArbitrageCandidate{}, quote(base, long, models.Long), longVenue)
		return AddFundingOccurrence(c, quote(base, short, models.Short), shortVenue)
	}
	onlyLong := AddFundingOccurrence(models.ArbitrageCandidate{}, quote("L", 50, models.Long), "a")
	candidates := []models.ArbitrageCandidate{
		mk("A", 1, 1, "a", "b"),
		onlyLong,
		mk("B", 10, 10, "a", "b"),
		mk("S", 40, 40, "a", "a"),
		mk("C", 5, 5, "b", "a"),
		mk("D", 3, 4, "a", "b"),
	}

	tests := []struct {
		k    int
		want []string
	}{
		{10, []string{"B", "C", "D", "A"}},
		{2, []string{"B", "C"}},
		{0, []string{"B", "C", "D", "A"}},
	}
	for _, tt := range tests {
		got := Rank(candidates, tt.k)
		if len(got) != len(tt.want) {
			t.Fatalf("k=%d: got %d candidates, want %d", tt.k, len(got), len(tt.want))
		}
		for i, base := range tt.want {
			if got[i].BaseCurrency != base {
				t.Errorf("k=%d: position %d = %s, want %s", tt.k, i, got[i].BaseCurrency, base)
			}
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].ResultingAPR <= got[i].ResultingAPR {
				t.Errorf("k=%d: not strictly descending at %d", tt.k, i)
			}
		}
	}
}

func enrichFixture() (venue.Registry, []models.ArbitrageCandidate) {
	a := venuetest.New("a").AddInstrument("XUSDT", "X", 0, "100")
	b := venuetest.New("b").AddInstrument("XUSDT", "X", 0, "101")
	a.Volumes["XUSDT"] = "5000"
	b.Volumes["XUSDT"] = "7000"

	c := AddFundingOccurrence(models.ArbitrageCandidate{}, quote("X", 5, models.Long), "a")
	c = AddFundingOccurrence(c, quote("X", 8, models.Short), "b")
	return venue.NewRegistry(a, b), []models.ArbitrageCandidate{c}
}

func TestEnrich(t *testing.T) {
	reg, candidates := enrichFixture()

	got, failures := Enrich(context.Background(), candidates, reg)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %+v", failures)
	}
	c := got[0]
	if c.LongMatch.Price != "100" || c.ShortMatch.Price != "101" {
		t.Fatalf("prices = %s / %s", c.LongMatch.Price, c.ShortMatch.Price)
	}
	if c.LongMatch.Volume24h != "5000" || c.ShortMatch.Volume24h != "7000" {
		t.Fatalf("volumes = %s / %s", c.LongMatch.Volume24h, c.ShortMatch.Volume24h)
	}
	if c.PriceSpread != "99.50" {
		t.Fatalf("spread = %s, want 99.50", c.PriceSpread)
	}
	if candidates[0].LongMatch.Price != "" {
		t.Fatal("input candidate was modified")
	}
}

func TestEnrichFailureIsIsolated(t *testing.T) {
	reg, candidates := enrichFixture()
	reg["b"].(*venuetest.Fake).PriceErr["XUSDT"] = errors.New("boom")

	d := AddFundingOccurrence(models.ArbitrageCandidate{}, quote("Y", 1, models.Long), "a")
	d = AddFundingOccurrence(d, quote("Y", 1, models.Short), "missing")
	candidates = append(candidates, d)

	got, failures := Enrich(context.Background(), candidates, reg)
	if len(got) != 2 || len(failures) != 2 {
		t.Fatalf("got %d candidates and %d failures", len(got), len(failures))
	}
	if got[0].BaseCurrency != "X" || got[0].PriceSpread != "" {
		t.Fatalf("failed candidate should be returned unenriched: %+v", got[0])
	}
}

func TestMatcherMatch(t *testing.T) {
	reg, _ := enrichFixture()
	m := New(config.MatcherConfig{TopK: 5, Enrich: true}, reg)

	quotes := []models.VenueQuotes{
		{Venue: "a", Quotes: []models.FundingQuote{quote("X", 5, models.Long)}},
		{Venue: "b", Quotes: []models.FundingQuote{quote("X", 8, models.Short)}},
	}
	got, failures := m.Match(context.Background(), quotes)
	if len(failures) != 0 || len(got) != 1 || got[0].PriceSpread != "99.50" {
		t.Fatalf("unexpected match result %+v, %+v", got, failures)
	}
}

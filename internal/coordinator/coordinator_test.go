package coordinator

import (
	"context"
	"errors"
	"testing"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/internal/venue"
	"fundingarb/internal/venue/venuetest"
)

func fixture(dryRun bool) (*Coordinator, *venuetest.Fake, *venuetest.Fake, models.ArbitrageCandidate) {
	a := venuetest.New("a").AddInstrument("ETHUSDT", "ETH", -0.0001, "1325.00")
	b := venuetest.New("b").AddInstrument("ETH-PERP", "ETH", 0.0002, "1325.02")

	longAPR, shortAPR := 10.95, 21.9
	cand := models.ArbitrageCandidate{
		BaseCurrency: "ETH",
		LongAPR:      &longAPR,
		ShortAPR:     &shortAPR,
		ResultingAPR: longAPR + shortAPR,
		LongMatch: &models.VenueOccurrence{
			FundingQuote: models.FundingQuote{Symbol: "ETHUSDT", BaseCurrency: "ETH", APR: longAPR, ReceivingSide: models.Long},
			Venue:        "a",
		},
		ShortMatch: &models.VenueOccurrence{
			FundingQuote: models.FundingQuote{Symbol: "ETH-PERP", BaseCurrency: "ETH", APR: shortAPR, ReceivingSide: models.Short},
			Venue:        "b",
		},
	}
	c := New(config.TradingConfig{TargetNotional: 100, DryRun: dryRun}, venue.NewRegistry(a, b))
	return c, a, b, cand
}

func TestPlan(t *testing.T) {
	c, _, _, cand := fixture(false)

	intents, err := c.Plan(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := []models.OrderIntent{
		{BaseCurrency: "ETH", Venue: "a", Symbol: "ETHUSDT", Side: models.Buy, Price: "1325.01", Size: "0.08"},
		{BaseCurrency: "ETH", Venue: "b", Symbol: "ETH-PERP", Side: models.Sell, Price: "1325.01", Size: "0.08"},
	}
	for i := range want {
		if intents[i] != want[i] {
			t.Errorf("intent %d = %+v, want %+v", i, intents[i], want[i])
		}
	}

	intents, err = c.Plan(context.Background(), cand, 1000)
	if err != nil || intents[0].Size != "0.75" {
		t.Fatalf("notional override: %+v, %v", intents, err)
	}
}

func TestPlanRejectsIncompleteCandidate(t *testing.T) {
	c, _, _, cand := fixture(false)

	sameVenue := cand.Clone()
	sameVenue.ShortMatch.Venue = "a"
	missing := cand.Clone()
	missing.ShortMatch = nil
	missing.ShortAPR = nil

	for _, bad := range []models.ArbitrageCandidate{sameVenue, missing} {
		if _, err := c.Plan(context.Background(), bad, 0); !errors.Is(err, ErrIncompleteCandidate) {
			t.Fatalf("want ErrIncompleteCandidate, got %v", err)
		}
	}
}

func TestPlanSizeTooSmall(t *testing.T) {
	c, _, _, cand := fixture(false)
	if _, err := c.Plan(context.Background(), cand, 0.001); !errors.Is(err, ErrSizeTooSmall) {
		t.Fatalf("want ErrSizeTooSmall, got %v", err)
	}
}

func TestOpenPlacesBothLegs(t *testing.T) {
	c, a, b, cand := fixture(false)

	results, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(results) != 2 || results[0].Venue != "a" || results[1].Venue != "b" {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].ExternalOrderID != "a-1" || results[1].ExternalOrderID != "b-1" {
		t.Fatalf("unexpected order ids %+v", results)
	}
	if got := a.PlacedOrders(); len(got) != 1 || got[0].Side != models.Buy {
		t.Fatalf("long venue orders %+v", got)
	}
	if got := b.PlacedOrders(); len(got) != 1 || got[0].Side != models.Sell {
		t.Fatalf("short venue orders %+v", got)
	}
}

func TestOpenSecondLegFailureIsPartial(t *testing.T) {
	c, a, b, cand := fixture(false)
	b.OrderErr = &venue.OrderRejectedError{Venue: "b", Reason: "insufficient margin"}

	results, err := c.Open(context.Background(), cand, 0)
	if !errors.Is(err, ErrPartialExecution) || !errors.Is(err, venue.ErrOrderRejected) {
		t.Fatalf("want partial execution wrapping rejection, got %v", err)
	}
	var partial *PartialExecutionError
	if !errors.As(err, &partial) || len(partial.Placed) != 1 || partial.Placed[0].Venue != "a" {
		t.Fatalf("placed legs not reported: %v", err)
	}
	if len(results) != 1 || len(a.PlacedOrders()) != 1 {
		t.Fatalf("long leg should stay open: %+v", results)
	}
}

func TestOpenFirstLegFailureStops(t *testing.T) {
	c, a, b, cand := fixture(false)
	a.OrderErr = &venue.OrderRejectedError{Venue: "a", Reason: "reduce only"}

	results, err := c.Open(context.Background(), cand, 0)
	if err == nil || errors.Is(err, ErrPartialExecution) {
		t.Fatalf("want plain rejection, got %v", err)
	}
	if results != nil || b.CallCount("place") != 0 {
		t.Fatal("short leg must not be placed after the long leg fails")
	}
}

func TestOpenDryRun(t *testing.T) {
	c, a, b, cand := fixture(true)

	results, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(results) != 2 || results[0].ExternalOrderID != dryRunOrderID {
		t.Fatalf("unexpected dry-run results %+v", results)
	}
	if len(a.PlacedOrders())+len(b.PlacedOrders()) != 0 {
		t.Fatal("dry run placed orders")
	}
}

func TestClose(t *testing.T) {
	c, a, b, cand := fixture(false)
	opened, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	a.Prices["ETHUSDT"] = "1400.0"
	b.Prices["ETH-PERP"] = "1400.2"

	legs := []models.Leg{
		{Venue: opened[0].Venue, Symbol: opened[0].Symbol, ExternalOrderID: opened[0].ExternalOrderID},
		{Venue: opened[1].Venue, Symbol: opened[1].Symbol, ExternalOrderID: opened[1].ExternalOrderID},
	}
	closed, err := c.Close(context.Background(), legs)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(closed) != 2 {
		t.Fatalf("closed %d legs, want 2", len(closed))
	}
	if closed[0].Intent.Side != models.Sell || closed[1].Intent.Side != models.Buy {
		t.Fatalf("close sides not inverted: %+v", closed)
	}
	if closed[0].Intent.Price != "1400.1" || closed[0].Intent.Size != "0.08" {
		t.Fatalf("unexpected close intent %+v", closed[0].Intent)
	}
}

func TestCloseSkipsUnfilledLeg(t *testing.T) {
	c, a, _, _ := fixture(false)
	a.Orders["a-9"] = models.OrderInfo{Side: models.Buy, Size: "0", Status: "NEW"}

	closed, err := c.Close(context.Background(), []models.Leg{{Venue: "a", Symbol: "ETHUSDT", ExternalOrderID: "a-9"}})
	if err != nil || len(closed) != 0 {
		t.Fatalf("want nothing to close, got %+v, %v", closed, err)
	}
	if len(a.PlacedOrders()) != 0 {
		t.Fatal("unfilled leg should not be flattened")
	}
}

func TestCloseErrors(t *testing.T) {
	c, _, _, _ := fixture(false)

	if _, err := c.Close(context.Background(), nil); !errors.Is(err, ErrNoLegs) {
		t.Fatalf("want ErrNoLegs, got %v", err)
	}
	if _, err := c.Close(context.Background(), []models.Leg{{Venue: "a", Symbol: "ETHUSDT", ExternalOrderID: "missing"}}); err == nil {
		t.Fatal("expected error for unknown order")
	}
	if _, err := c.Close(context.Background(), []models.Leg{{Venue: "zzz", Symbol: "X", ExternalOrderID: "1"}}); err == nil {
		t.Fatal("expected error for unknown venue")
	}
}

func legsOf(results []models.OrderResult) []models.Leg {
	legs := make([]models.Leg, 0, len(results))
	for _, r := range results {
		legs = append(legs, models.LegOf(r))
	}
	return legs
}

func TestClosePartialReportsRemainingLegs(t *testing.T) {
	c, a, b, cand := fixture(false)
	opened, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	legs := legsOf(opened)

	b.OrderErr = &venue.OrderRejectedError{Venue: "b", Reason: "maintenance"}
	_, err = c.Close(context.Background(), legs)
	var partial *PartialExecutionError
	if !errors.As(err, &partial) {
		t.Fatalf("want partial execution, got %v", err)
	}
	if len(partial.Placed) != 1 || partial.Placed[0].Venue != "a" {
		t.Fatalf("unexpected placed %+v", partial.Placed)
	}
	if len(partial.Remaining) != 1 || partial.Remaining[0] != legs[1] {
		t.Fatalf("remaining = %+v, want only the short leg", partial.Remaining)
	}

	// retrying with what is left must not flatten the long leg again
	b.OrderErr = nil
	if _, err := c.Close(context.Background(), partial.Remaining); err != nil {
		t.Fatalf("retry Close: %v", err)
	}
	aOrders, bOrders := a.PlacedOrders(), b.PlacedOrders()
	if len(aOrders) != 2 || aOrders[0].Side != models.Buy || aOrders[1].Side != models.Sell {
		t.Fatalf("long venue orders %+v, want one buy and one sell", aOrders)
	}
	if len(bOrders) != 2 || bOrders[0].Side != models.Sell || bOrders[1].Side != models.Buy {
		t.Fatalf("short venue orders %+v, want one sell and one buy", bOrders)
	}
}

func TestCloseDryRunLegs(t *testing.T) {
	c, a, b, cand := fixture(true)
	opened, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	closed, err := c.Close(context.Background(), legsOf(opened))
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(closed) != 2 || closed[0].Intent.Side != models.Sell || closed[1].Intent.Side != models.Buy {
		t.Fatalf("unexpected dry-run close %+v", closed)
	}
	if closed[0].Intent.Size != "0.08" || closed[0].ExternalOrderID != dryRunOrderID {
		t.Fatalf("unexpected dry-run close intent %+v", closed[0])
	}
	if a.CallCount("get_order")+b.CallCount("get_order") != 0 {
		t.Fatal("simulated legs were read from the venue")
	}
	if len(a.PlacedOrders())+len(b.PlacedOrders()) != 0 {
		t.Fatal("dry run placed orders")
	}
}

func TestCloseSkipsSimulatedLegsWhenLive(t *testing.T) {
	c, a, _, _ := fixture(false)
	leg := models.Leg{Venue: "a", Symbol: "ETHUSDT", ExternalOrderID: dryRunOrderID, Side: models.Buy, Size: "0.08"}

	closed, err := c.Close(context.Background(), []models.Leg{leg})
	if err != nil || len(closed) != 0 {
		t.Fatalf("want nothing to close, got %+v, %v", closed, err)
	}
	if a.CallCount("get_order") != 0 || len(a.PlacedOrders()) != 0 {
		t.Fatal("simulated leg reached the venue")
	}
}

func TestCloseCarriesBaseCurrency(t *testing.T) {
	c, _, _, cand := fixture(false)
	opened, err := c.Open(context.Background(), cand, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	recorded := models.LegOf(opened[1])
	bare := models.Leg{Venue: opened[0].Venue, Symbol: opened[0].Symbol, ExternalOrderID: opened[0].ExternalOrderID}

	closed, err := c.Close(context.Background(), []models.Leg{bare, recorded})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, r := range closed {
		if r.Intent.BaseCurrency != "ETH" {
			t.Errorf("%s close intent base = %q, want ETH", r.Venue, r.Intent.BaseCurrency)
		}
	}
}

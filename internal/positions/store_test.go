package positions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"fundingarb/config"
	"fundingarb/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s := NewStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func sampleCandidate() models.ArbitrageCandidate {
	return models.ArbitrageCandidate{
		BaseCurrency: "BTC",
		ResultingAPR: 32.85,
		LongMatch:    &models.VenueOccurrence{Venue: "binance"},
		ShortMatch:   &models.VenueOccurrence{Venue: "bybit"},
	}
}

func sampleResults() []models.OrderResult {
	return []models.OrderResult{
		{Venue: "binance", Symbol: "BTCUSDT", ExternalOrderID: "1"},
		{Venue: "bybit", Symbol: "BTCUSDT", ExternalOrderID: "2"},
	}
}

func TestNewPosition(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	p := NewPosition(sampleCandidate(), sampleResults(), true, false, now)

	if p.ID == "" {
		t.Fatal("position id not set")
	}
	if p.LongVenue != "binance" || p.ShortVenue != "bybit" || p.BaseCurrency != "BTC" {
		t.Fatalf("unexpected position %+v", p)
	}
	if len(p.Legs) != 2 || p.Legs[1].String() != "bybit:BTCUSDT:2" {
		t.Fatalf("unexpected legs %+v", p.Legs)
	}
	if p.OpenedAt.Location() != time.UTC {
		t.Fatalf("opened_at not UTC: %v", p.OpenedAt)
	}
	if !p.DryRun || p.Partial {
		t.Fatalf("flags not carried: %+v", p)
	}
}

func TestStoreSaveGetListRemove(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	older := NewPosition(sampleCandidate(), sampleResults(), false, false, time.Unix(100, 0))
	newer := NewPosition(sampleCandidate(), sampleResults()[:1], false, true, time.Unix(200, 0))
	for _, p := range []Position{newer, older} {
		if err := s.Save(ctx, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if !mr.Exists("test:position:" + older.ID) {
		t.Fatal("position key not written under prefix")
	}

	got, err := s.Get(ctx, newer.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Partial || len(got.Legs) != 1 || got.Legs[0].ExternalOrderID != "1" {
		t.Fatalf("unexpected position %+v", got)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != older.ID || list[1].ID != newer.ID {
		t.Fatalf("List order = %+v", list)
	}

	if err := s.Remove(ctx, older.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, older.ID); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if _, err := s.Get(ctx, older.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
	list, err = s.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List after Remove = %v, %v", list, err)
	}
}

func TestStoreListSkipsDanglingIndex(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	p := NewPosition(sampleCandidate(), sampleResults(), false, false, time.Unix(100, 0))
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}
	mr.Del("test:position:" + p.ID)

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List = %+v, want empty", list)
	}
}

func TestStoreSaveValidates(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Position{Legs: []models.Leg{{Venue: "binance"}}}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("missing id: %v", err)
	}
	if err := s.Save(ctx, Position{ID: "x"}); !errors.Is(err, ErrEmptyLegs) {
		t.Fatalf("empty legs: %v", err)
	}
	if _, err := s.Get(ctx, ""); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("empty get: %v", err)
	}
}

func TestStoreLock(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, "btc", time.Minute)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := s.Lock(ctx, "BTC", time.Minute); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second Lock = %v, want ErrLockHeld", err)
	}
	if _, err := s.Lock(ctx, "ETH", time.Minute); err != nil {
		t.Fatalf("Lock on another asset: %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("test:lock:BTC") {
		t.Fatal("lock not released")
	}

	if _, err := s.Lock(ctx, "BTC", time.Second); err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := s.Lock(ctx, "BTC", time.Second); err != nil {
		t.Fatalf("Lock after expiry: %v", err)
	}
}

func TestStaleUnlockKeepsNewHolder(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	stale, err := s.Lock(ctx, "BTC", time.Second)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := s.Lock(ctx, "BTC", time.Minute); err != nil {
		t.Fatalf("Lock after expiry: %v", err)
	}

	stale()
	if !mr.Exists("test:lock:BTC") {
		t.Fatal("stale unlock released the new holder's lock")
	}
}

func TestNewStoreFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewStore(ctx, config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected ping error")
	}
}

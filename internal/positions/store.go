// Package positions keeps the book of opened arbitrage legs in Redis so a
// later close can find them by id.
//
// Key schema, under the configured prefix:
//
//	<prefix>:position:<id>   hash with field "data" holding the JSON position
//	<prefix>:positions:open  sorted set of open ids scored by open time (ms)
//	<prefix>:lock:<asset>    SETNX lock held while an asset is being opened
package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fundingarb/config"
	"fundingarb/internal/models"
)

var (
	ErrNotFound   = errors.New("position not found")
	ErrLockHeld   = errors.New("asset is already being opened")
	ErrEmptyLegs  = errors.New("position has no legs")
	ErrMissingKey = errors.New("position id is required")
)

const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Position is a set of legs opened together for one base asset. Partial is
// set when the second leg failed and only the first one went through.
type Position struct {
	ID           string       `json:"id"`
	BaseCurrency string       `json:"base_currency"`
	LongVenue    string       `json:"long_venue"`
	ShortVenue   string       `json:"short_venue"`
	ResultingAPR float64      `json:"resulting_apr"`
	Legs         []models.Leg `json:"legs"`
	OpenedAt     time.Time    `json:"opened_at"`
	DryRun       bool         `json:"dry_run"`
	Partial      bool         `json:"partial"`
}

// NewPosition builds a position from the orders placed for cand.
func NewPosition(cand models.ArbitrageCandidate, placed []models.OrderResult, dryRun, partial bool, now time.Time) Position {
	p := Position{
		ID:           uuid.NewString(),
		BaseCurrency: cand.BaseCurrency,
		ResultingAPR: cand.ResultingAPR,
		OpenedAt:     now.UTC(),
		DryRun:       dryRun,
		Partial:      partial,
	}
	if cand.LongMatch != nil {
		p.LongVenue = cand.LongMatch.Venue
	}
	if cand.ShortMatch != nil {
		p.ShortVenue = cand.ShortMatch.Venue
	}
	for _, r := range placed {
		leg := models.LegOf(r)
		if leg.BaseCurrency == "" {
			leg.BaseCurrency = cand.BaseCurrency
		}
		p.Legs = append(p.Legs, leg)
	}
	return p
}

// Store is the Redis backed position book.
type Store struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
}

// NewStore connects to Redis and pings it.
func NewStore(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewStoreWithClient(rdb, cfg.KeyPrefix), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(rdb *redis.Client, prefix string) *Store {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "fundingarb"
	}
	return &Store{rdb: rdb, prefix: prefix, unlockSc: redis.NewScript(unlockLua)}
}

func (s *Store) positionKey(id string) string { return s.prefix + ":position:" + id }
func (s *Store) openKey() string              { return s.prefix + ":positions:open" }
func (s *Store) lockKey(asset string) string {
	return s.prefix + ":lock:" + strings.ToUpper(asset)
}

// Save stores p and indexes it as open.
func (s *Store) Save(ctx context.Context, p Position) error {
	if p.ID == "" {
		return ErrMissingKey
	}
	if len(p.Legs) == 0 {
		return ErrEmptyLegs
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", p.ID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.positionKey(p.ID), "data", data)
	pipe.ZAdd(ctx, s.openKey(), redis.Z{Score: float64(p.OpenedAt.UnixMilli()), Member: p.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save position %s: %w", p.ID, err)
	}
	return nil
}

// Get loads a position by id.
func (s *Store) Get(ctx context.Context, id string) (Position, error) {
	if id == "" {
		return Position{}, ErrMissingKey
	}
	data, err := s.rdb.HGet(ctx, s.positionKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Position{}, fmt.Errorf("redis: get position %s: %w", id, err)
	}

	var p Position
	if err := json.Unmarshal(data, &p); err != nil {
		return Position{}, fmt.Errorf("redis: unmarshal position %s: %w", id, err)
	}
	return p, nil
}

// List returns the open positions, oldest first. Index entries whose data
// has gone missing are skipped.
func (s *Store) List(ctx context.Context) ([]Position, error) {
	ids, err := s.rdb.ZRange(ctx, s.openKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list positions: %w", err)
	}
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Remove deletes a closed position. Removing an unknown id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.positionKey(id))
	pipe.ZRem(ctx, s.openKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove position %s: %w", id, err)
	}
	return nil
}

// Lock takes the open lock for asset. The returned unlock func releases it
// only while this holder still owns it and is safe to call more than once.
func (s *Store) Lock(ctx context.Context, asset string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	key := s.lockKey(asset)

	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, strings.ToUpper(asset))
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.unlockSc.Run(unlockCtx, s.rdb, []string{key}, token).Err()
	}, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

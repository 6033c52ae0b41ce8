package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/skycheckout/config"
	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrSeatLocked = errors.New("seat is locked by another session")

// SeatLockError lists the seats held by someone else. It matches ErrSeatLocked.
type SeatLockError struct {
	SeatIDs []string
}

func (e *SeatLockError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSeatLocked, strings.Join(e.SeatIDs, ", "))
}

func (e *SeatLockError) Unwrap() error {
	return ErrSeatLocked
}

// Release and extend only touch a lock still owned by the calling session.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

type RedisCache struct {
	client     *redis.Client
	flightsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, flightsTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(
		redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		flightsTTL,
	)
}

func NewRedisCacheWithClient(client *redis.Client, flightsTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, flightsTTL: flightsTTL}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetFlights returns nil without error on a cache miss.
func (c *RedisCache) GetFlights(ctx context.Context) ([]domain.Flight, error) {
	var flights []domain.Flight
	if err := c.getJSON(ctx, flightsKey(), &flights); err != nil {
		return nil, err
	}
	return flights, nil
}

func (c *RedisCache) SetFlights(ctx context.Context, flights []domain.Flight) error {
	return c.setJSON(ctx, flightsKey(), flights)
}

// GetSeatMap returns the cached seat layout of a flight, nil on a miss. Lock
// state is not cached.
func (c *RedisCache) GetSeatMap(ctx context.Context, flightID string) ([]domain.Seat, error) {
	var seats []domain.Seat
	if err := c.getJSON(ctx, seatMapKey(flightID), &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

func (c *RedisCache) SetSeatMap(ctx context.Context, flightID string, seats []domain.Seat) error {
	return c.setJSON(ctx, seatMapKey(flightID), seats)
}

func (c *RedisCache) InvalidateSeatMap(ctx context.Context, flightID string) error {
	return c.client.Del(ctx, seatMapKey(flightID)).Err()
}

// AcquireSeatLocks locks every seat for the session or none of them. Seats the
// session already holds are refreshed. Seats held by another session are
// reported in a *SeatLockError after the locks taken by this call are released.
func (c *RedisCache) AcquireSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) error {
	var taken, conflicts []string
	for _, seatID := range seatIDs {
		key := seatLockKey(flightID, seatID)
		ok, err := c.client.SetNX(ctx, key, sessionID, ttl).Result()
		if err != nil {
			c.rollback(ctx, flightID, sessionID, taken)
			return fmt.Errorf("lock seat %s: %w", seatID, err)
		}
		if ok {
			taken = append(taken, seatID)
			continue
		}

		owner, err := c.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			c.rollback(ctx, flightID, sessionID, taken)
			return fmt.Errorf("read lock owner of seat %s: %w", seatID, err)
		}
		if owner != sessionID {
			conflicts = append(conflicts, seatID)
			continue
		}
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			c.rollback(ctx, flightID, sessionID, taken)
			return fmt.Errorf("refresh lock of seat %s: %w", seatID, err)
		}
	}

	if len(conflicts) > 0 {
		c.rollback(ctx, flightID, sessionID, taken)
		return &SeatLockError{SeatIDs: conflicts}
	}
	return nil
}

func (c *RedisCache) rollback(ctx context.Context, flightID, sessionID string, seatIDs []string) {
	_ = c.ReleaseSeatLocks(ctx, flightID, sessionID, seatIDs)
}

// ReleaseSeatLocks drops the session's locks. Locks owned by others are left alone.
func (c *RedisCache) ReleaseSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string) error {
	var errs []error
	for _, seatID := range seatIDs {
		err := releaseScript.Run(ctx, c.client, []string{seatLockKey(flightID, seatID)}, sessionID).Err()
		if err != nil {
			errs = append(errs, fmt.Errorf("release seat %s: %w", seatID, err))
		}
	}
	return errors.Join(errs...)
}

// ExtendSeatLocks pushes the session's locks out by ttl and returns the seats
// whose lock was already gone or taken over.
func (c *RedisCache) ExtendSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) ([]string, error) {
	var lost []string
	for _, seatID := range seatIDs {
		n, err := extendScript.Run(ctx, c.client, []string{seatLockKey(flightID, seatID)}, sessionID, ttl.Milliseconds()).Int64()
		if err != nil {
			return nil, fmt.Errorf("extend seat %s: %w", seatID, err)
		}
		if n == 0 {
			lost = append(lost, seatID)
		}
	}
	return lost, nil
}

// SeatLockOwners maps each locked seat to the session holding it.
func (c *RedisCache) SeatLockOwners(ctx context.Context, flightID string, seatIDs []string) (map[string]string, error) {
	owners := make(map[string]string)
	if len(seatIDs) == 0 {
		return owners, nil
	}
	keys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		keys[i] = seatLockKey(flightID, id)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if owner, ok := v.(string); ok && owner != "" {
			owners[seatIDs[i]] = owner
		}
	}
	return owners, nil
}

func (c *RedisCache) getJSON(ctx context.Context, key string, out any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, out)
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, c.flightsTTL).Err()
}

func flightsKey() string {
	return "cache:flights"
}

func seatMapKey(flightID string) string {
	return fmt.Sprintf("cache:flight:%s:seats", flightID)
}

func seatLockKey(flightID, seatID string) string {
	return fmt.Sprintf("lock:flight:%s:seat:%s", flightID, seatID)
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

const ttl = 15 * time.Minute

func newMockCache(t *testing.T) (*RedisCache, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewRedisCacheWithClient(db, time.Minute), mock
}

func TestAcquireSeatLocks_AllFree(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectSetNX("lock:flight:FL100:seat:1A", "sess-1", ttl).SetVal(true)
	mock.ExpectSetNX("lock:flight:FL100:seat:1B", "sess-1", ttl).SetVal(true)

	err := c.AcquireSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A", "1B"}, ttl)

	assert.NoError(t, err)
}

func TestAcquireSeatLocks_OwnLockIsRefreshed(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectSetNX("lock:flight:FL100:seat:1A", "sess-1", ttl).SetVal(false)
	mock.ExpectGet("lock:flight:FL100:seat:1A").SetVal("sess-1")
	mock.ExpectExpire("lock:flight:FL100:seat:1A", ttl).SetVal(true)

	err := c.AcquireSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A"}, ttl)

	assert.NoError(t, err)
}

func TestAcquireSeatLocks_ConflictRollsBack(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectSetNX("lock:flight:FL100:seat:1A", "sess-1", ttl).SetVal(true)
	mock.ExpectSetNX("lock:flight:FL100:seat:1B", "sess-1", ttl).SetVal(false)
	mock.ExpectGet("lock:flight:FL100:seat:1B").SetVal("sess-2")
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:flight:FL100:seat:1A"}, "sess-1").SetVal(int64(1))

	err := c.AcquireSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A", "1B"}, ttl)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeatLocked)
	var lockErr *SeatLockError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, []string{"1B"}, lockErr.SeatIDs)
}

func TestAcquireSeatLocks_RedisFailureRollsBack(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectSetNX("lock:flight:FL100:seat:1A", "sess-1", ttl).SetVal(true)
	mock.ExpectSetNX("lock:flight:FL100:seat:1B", "sess-1", ttl).SetErr(errors.New("connection reset"))
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:flight:FL100:seat:1A"}, "sess-1").SetVal(int64(1))

	err := c.AcquireSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A", "1B"}, ttl)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSeatLocked)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestReleaseSeatLocks(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:flight:FL100:seat:1A"}, "sess-1").SetVal(int64(1))
	mock.ExpectEvalSha(releaseScript.Hash(), []string{"lock:flight:FL100:seat:2C"}, "sess-1").SetVal(int64(0))

	err := c.ReleaseSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A", "2C"})

	assert.NoError(t, err)
}

func TestExtendSeatLocks(t *testing.T) {
	c, mock := newMockCache(t)
	ms := ttl.Milliseconds()
	mock.ExpectEvalSha(extendScript.Hash(), []string{"lock:flight:FL100:seat:1A"}, "sess-1", ms).SetVal(int64(1))
	mock.ExpectEvalSha(extendScript.Hash(), []string{"lock:flight:FL100:seat:1B"}, "sess-1", ms).SetVal(int64(0))

	lost, err := c.ExtendSeatLocks(context.Background(), "FL100", "sess-1", []string{"1A", "1B"}, ttl)

	require.NoError(t, err)
	assert.Equal(t, []string{"1B"}, lost)
}

func TestSeatLockOwners(t *testing.T) {
	c, mock := newMockCache(t)
	mock.ExpectMGet("lock:flight:FL100:seat:1A", "lock:flight:FL100:seat:1B").
		SetVal([]interface{}{"sess-2", nil})

	owners, err := c.SeatLockOwners(context.Background(), "FL100", []string{"1A", "1B"})

	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1A": "sess-2"}, owners)
}

func TestFlightsCache(t *testing.T) {
	c, mock := newMockCache(t)
	flights := []domain.Flight{{ID: "FL100", PriceCents: 50000}}
	payload, err := json.Marshal(flights)
	require.NoError(t, err)

	mock.ExpectGet("cache:flights").RedisNil()
	mock.ExpectSet("cache:flights", payload, time.Minute).SetVal("OK")
	mock.ExpectGet("cache:flights").SetVal(string(payload))
	ctx := context.Background()

	miss, err := c.GetFlights(ctx)
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.SetFlights(ctx, flights))

	hit, err := c.GetFlights(ctx)
	require.NoError(t, err)
	assert.Equal(t, flights, hit)
}

func TestSeatMapCache(t *testing.T) {
	c, mock := newMockCache(t)
	seats := []domain.Seat{{ID: "1A", SeatNumber: "1A", IsAvailable: true}}
	payload, err := json.Marshal(seats)
	require.NoError(t, err)
	mock.ExpectGet("cache:flight:FL100:seats").SetVal(string(payload))
	mock.ExpectDel("cache:flight:FL100:seats").SetVal(1)
	ctx := context.Background()

	got, err := c.GetSeatMap(ctx, "FL100")
	require.NoError(t, err)
	assert.Equal(t, seats, got)

	assert.NoError(t, c.InvalidateSeatMap(ctx, "FL100"))
}

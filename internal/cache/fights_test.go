package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallera-exchange/internal/model"
)

type fakeStore struct {
	fights map[string]model.FightStatus
	calls  int

	afterRead func() // runs after the status is read, before returning
}

func (f *fakeStore) GetFight(_ context.Context, id string) (*model.Fight, error) {
	f.calls++
	st, ok := f.fights[id]
	if f.afterRead != nil {
		f.afterRead()
	}
	if !ok {
		return nil, model.ErrNotFound
	}
	return &model.Fight{ID: id, Status: st}, nil
}

func newTestCache(t *testing.T, store FightStore) (*FightCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewFightCache(rdb, store, time.Minute, nil), mr
}

func TestFightStatusReadsThrough(t *testing.T) {
	store := &fakeStore{fights: map[string]model.FightStatus{"f1": model.FightBetting}}
	c, mr := newTestCache(t, store)
	ctx := context.Background()

	st, err := c.FightStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightBetting, st)
	assert.Equal(t, 1, store.calls)

	cached, err := mr.Get("fight:status:f1")
	require.NoError(t, err)
	assert.Equal(t, "betting", cached)
	assert.True(t, mr.TTL("fight:status:f1") > 0)

	st, err = c.FightStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightBetting, st)
	assert.Equal(t, 1, store.calls, "second read should hit redis")
}

func TestFightStatusWriteThrough(t *testing.T) {
	store := &fakeStore{fights: map[string]model.FightStatus{"f1": model.FightBetting}}
	c, _ := newTestCache(t, store)
	ctx := context.Background()

	_, err := c.FightStatus(ctx, "f1")
	require.NoError(t, err)

	c.Set(ctx, "f1", model.FightLive)
	st, err := c.FightStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightLive, st)
}

func TestReadThroughDoesNotOverwriteNewerStatus(t *testing.T) {
	store := &fakeStore{fights: map[string]model.FightStatus{"f1": model.FightBetting}}
	c, mr := newTestCache(t, store)
	ctx := context.Background()
	store.afterRead = func() {
		// Admin closes betting between our database read and the cache fill.
		store.fights["f1"] = model.FightLive
		c.Set(ctx, "f1", model.FightLive)
	}

	st, err := c.FightStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightBetting, st, "caller sees what it read")

	cached, err := mr.Get("fight:status:f1")
	require.NoError(t, err)
	assert.Equal(t, "live", cached)

	store.afterRead = nil
	st, err = c.FightStatus(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightLive, st)
}

func TestFightStatusFallsBackWhenRedisDown(t *testing.T) {
	store := &fakeStore{fights: map[string]model.FightStatus{"f1": model.FightScheduled}}
	c, mr := newTestCache(t, store)
	mr.Close()

	st, err := c.FightStatus(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, model.FightScheduled, st)
}

func TestFightStatusWithoutRedis(t *testing.T) {
	store := &fakeStore{fights: map[string]model.FightStatus{}}
	c := NewFightCache(nil, store, time.Minute, nil)

	_, err := c.FightStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gallera-exchange/internal/model"
)

// FightStore is the durable source behind the cache.
type FightStore interface {
	GetFight(ctx context.Context, id string) (*model.Fight, error)
}

// FightCache answers fight status lookups for the matching engine. Reads go
// to redis first and fall back to the store; a nil client reads the store only.
type FightCache struct {
	R     *redis.Client
	Store FightStore
	TTL   time.Duration
	Log   *zap.Logger
}

func NewFightCache(r *redis.Client, store FightStore, ttl time.Duration, log *zap.Logger) *FightCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &FightCache{R: r, Store: store, TTL: ttl, Log: log}
}

func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}

func keyFightStatus(fightID string) string { return "fight:status:" + fightID }

// FightStatus returns the current status of a fight. Unknown fights surface
// the store's model.ErrNotFound.
func (c *FightCache) FightStatus(ctx context.Context, fightID string) (model.FightStatus, error) {
	if c.R != nil {
		s, err := c.R.Get(ctx, keyFightStatus(fightID)).Result()
		switch {
		case err == nil:
			if st := model.FightStatus(s); st.Valid() {
				return st, nil
			}
		case err != redis.Nil:
			c.Log.Warn("redis get failed", zap.String("fight_id", fightID), zap.Error(err))
		}
	}

	f, err := c.Store.GetFight(ctx, fightID)
	if err != nil {
		return "", err
	}
	c.fill(ctx, fightID, f.Status)
	return f.Status, nil
}

// Set writes a status through to redis after the store has been updated.
func (c *FightCache) Set(ctx context.Context, fightID string, status model.FightStatus) {
	if c.R == nil {
		return
	}
	if err := c.R.Set(ctx, keyFightStatus(fightID), string(status), c.TTL).Err(); err != nil {
		c.Log.Warn("redis set failed", zap.String("fight_id", fightID), zap.Error(err))
	}
}

// fill caches a status read from the store. It never replaces an existing
// key: a write-through from Set that landed after our read is newer.
func (c *FightCache) fill(ctx context.Context, fightID string, status model.FightStatus) {
	if c.R == nil {
		return
	}
	if err := c.R.SetNX(ctx, keyFightStatus(fightID), string(status), c.TTL).Err(); err != nil {
		c.Log.Warn("redis setnx failed", zap.String("fight_id", fightID), zap.Error(err))
	}
}

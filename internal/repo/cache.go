package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bankintake/internal/domain"
	"bankintake/internal/logger"
)

const cacheKeyPrefix = "intake:app:"

// Cached serves FindByToken from Redis and delegates everything else to the
// wrapped Store. Redis failures are logged and never surface to callers.
type Cached struct {
	Store
	Redis redis.UniversalClient
	TTL   time.Duration
	Log   logger.Logger
}

func NewCached(store Store, client redis.UniversalClient, ttl time.Duration, log logger.Logger) *Cached {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Cached{Store: store, Redis: client, TTL: ttl, Log: log}
}

func idKey(family domain.Family, id string) string {
	return cacheKeyPrefix + string(family) + ":id:" + id
}

func refKey(family domain.Family, ref string) string {
	return cacheKeyPrefix + string(family) + ":ref:" + ref
}

// lookupKeys mirrors the store's id-before-reference order. Ids are uuids,
// so a uuid-shaped token never consults the reference space.
func lookupKeys(family domain.Family, token string) []string {
	keys := []string{idKey(family, token)}
	if _, err := uuid.Parse(token); err != nil {
		keys = append(keys, refKey(family, token))
	}
	return keys
}

func entryKeys(family domain.Family, id, ref string) []string {
	keys := []string{idKey(family, id)}
	if ref != "" {
		keys = append(keys, refKey(family, ref))
	}
	return keys
}

func (c *Cached) FindByToken(ctx context.Context, family domain.Family, token string) (domain.Application, error) {
	keys := lookupKeys(family, token)
	vals, err := c.Redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.Log.WithError(err).Warn("cache read failed", map[string]interface{}{"token": token, "family": family})
	}
	for i, v := range vals {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var app domain.Application
		if err := json.Unmarshal([]byte(data), &app); err == nil {
			return app, nil
		}
		c.Log.Warn("discarding unreadable cache entry", map[string]interface{}{"key": keys[i]})
	}

	app, err := c.Store.FindByToken(ctx, family, token)
	if err != nil {
		return app, err
	}
	c.fill(ctx, app)
	return app, nil
}

// fill caches app without replacing existing entries, so a lookup that
// read the record before a decision cannot overwrite the decided copy.
func (c *Cached) fill(ctx context.Context, app domain.Application) {
	data, err := json.Marshal(app)
	if err != nil {
		return
	}
	pipe := c.Redis.TxPipeline()
	for _, key := range entryKeys(app.Family, app.ID, app.ReferenceNumber) {
		pipe.SetNX(ctx, key, data, c.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.Log.WithError(err).Warn("cache write failed", map[string]interface{}{"id": app.ID})
	}
}

// UpdateStatus replaces the cached entries with the decided record. When the
// record cannot be re-read the entries are evicted instead.
func (c *Cached) UpdateStatus(ctx context.Context, u StatusUpdate, evt domain.Event) (int64, error) {
	matched, err := c.Store.UpdateStatus(ctx, u, evt)
	if matched == 0 {
		return matched, err
	}
	keys := entryKeys(u.Family, u.ID, u.ReferenceNumber)
	fresh, ferr := c.Store.FindByToken(ctx, u.Family, u.ID)
	data, merr := json.Marshal(fresh)
	if ferr == nil && merr == nil && fresh.ID == u.ID {
		pipe := c.Redis.TxPipeline()
		for _, key := range keys {
			pipe.Set(ctx, key, data, c.TTL)
		}
		if _, werr := pipe.Exec(ctx); werr == nil {
			return matched, err
		}
	}
	if delErr := c.Redis.Del(ctx, keys...).Err(); delErr != nil {
		c.Log.WithError(delErr).Warn("cache evict failed", map[string]interface{}{"id": u.ID})
	}
	return matched, err
}

func (c *Cached) Close() error {
	err := c.Store.Close()
	if cerr := c.Redis.Close(); err == nil {
		err = cerr
	}
	return err
}

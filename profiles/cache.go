package profiles

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheKeyPrefix = "profile:"

// CachedRepo is a read-through Redis cache in front of another Repo.
// Cache failures are logged and fall through to the underlying repo.
type CachedRepo struct {
	repo  Repo
	cache redis.Cmdable
	ttl   time.Duration
}

var _ Repo = (*CachedRepo)(nil)

func NewCachedRepo(repo Repo, cache redis.Cmdable, ttl time.Duration) *CachedRepo {
	return &CachedRepo{repo: repo, cache: cache, ttl: ttl}
}

func (c *CachedRepo) Get(ctx context.Context, userID string) (*Profile, error) {
	key := cacheKeyPrefix + userID
	raw, err := c.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return &p, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached profile")
	case err != redis.Nil:
		log.Warn().Err(err).Str("key", key).Msg("profile cache read failed")
	}

	p, err := c.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, p)
	return p, nil
}

func (c *CachedRepo) Upsert(ctx context.Context, p *Profile) error {
	if err := c.repo.Upsert(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.ID)
	return nil
}

func (c *CachedRepo) Delete(ctx context.Context, userID string) error {
	if err := c.repo.Delete(ctx, userID); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

func (c *CachedRepo) store(ctx context.Context, key string, p *Profile) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("profile cache write failed")
	}
}

func (c *CachedRepo) invalidate(ctx context.Context, userID string) {
	if err := c.cache.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("profile cache invalidation failed")
	}
}

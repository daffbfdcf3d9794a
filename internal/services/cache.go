package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"fieldsales-server/internal/cache"
)

// cacheHelper wraps a cache.Cache so that every failure is a logged miss.
type cacheHelper struct {
	c   cache.Cache
	ttl time.Duration
	log zerolog.Logger
}

func newCacheHelper(c cache.Cache, ttl time.Duration, log zerolog.Logger) cacheHelper {
	if c == nil {
		c = cache.Noop{}
	}
	return cacheHelper{c: c, ttl: ttl, log: log}
}

// get decodes key into dst and reports whether it was found.
func (h cacheHelper) get(ctx context.Context, key string, dst interface{}) bool {
	data, err := h.c.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			h.log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return false
	}
	return true
}

func (h cacheHelper) set(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := h.c.Set(ctx, key, data, h.ttl); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (h cacheHelper) del(ctx context.Context, keys ...string) {
	if err := h.c.Delete(ctx, keys...); err != nil {
		h.log.Warn().Err(err).Strs("keys", keys).Msg("cache delete failed")
	}
}

func visitCacheKey(id string) string   { return "visit:" + id }
func companyCacheKey(id string) string { return "company:" + id }

// Package cache provides the optional key/value cache used to avoid
// redundant reads. Callers treat every failure as a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Cache is a byte-oriented key/value store with TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config selects a backend.
type Config struct {
	Driver     string
	RedisAddr  string
	RedisPass  string
	RedisDB    int
	DefaultTTL time.Duration
}

// New builds the configured cache. "none" returns a cache that always misses.
func New(cfg Config) (Cache, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB), nil
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache driver %q", cfg.Driver)
	}
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, ...string) error { return nil }

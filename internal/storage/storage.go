// Package storage persists uploaded visit photos and generated reports and
// hands back URLs clients can fetch them from.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore stores blobs under a key.
type ObjectStore interface {
	// Put stores data and returns a URL for it.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config selects a backend.
type Config struct {
	Driver          string
	LocalDir        string
	PublicBaseURL   string
	OSSEndpoint     string
	OSSAccessKey    string
	OSSSecretKey    string
	OSSBucket       string
	OSSSignedURLTTL time.Duration
}

// New builds the configured store.
func New(cfg Config) (ObjectStore, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocal(cfg.LocalDir, cfg.PublicBaseURL)
	case "oss":
		return NewOSS(cfg.OSSEndpoint, cfg.OSSAccessKey, cfg.OSSSecretKey, cfg.OSSBucket, cfg.OSSSignedURLTTL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// ObjectKey builds a unique key under prefix, keeping the extension.
// Example: visits/<visitID>/2026/10/19/<uuid>.jpg
func ObjectKey(prefix, ext string, now time.Time) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	name := uuid.New().String()
	if ext != "" {
		name += "." + ext
	}
	return path.Join(strings.Trim(prefix, "/"), now.UTC().Format("2006/01/02"), name)
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreBusy is returned when a single-process backend is already held
// by another process
var ErrStoreBusy = errors.New("lock store busy")

// LockStore is a key-value store with per-key expiration. Presence of a key
// is what matters to callers; values are opaque.
type LockStore interface {
	// Get returns the value for key and whether it exists. Expired keys
	// never exist.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put writes key with the given time to live. ttl must be positive.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the backend in diagnostics
	Name() string

	// Close releases backend resources
	Close() error
}

// Purger is implemented by stores that keep expired keys on disk until
// swept
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Backend names accepted by Open
const (
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Options selects and configures a LockStore backend
type Options struct {
	Backend  string
	DataDir  string
	RedisURL string
}

// Open creates the LockStore described by opts
func Open(opts Options) (LockStore, error) {
	switch opts.Backend {
	case BackendBolt, "":
		return NewBoltStore(opts.DataDir)
	case BackendRedis:
		return NewRedisStoreFromURL(opts.RedisURL)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown lock store backend: %s", opts.Backend)
	}
}

func validTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	return nil
}

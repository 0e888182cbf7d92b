package db

import (
	"context"
	"time"
)

// Store is the key-value facade used by the pipeline. Consumers depend on
// the narrow sub-interfaces, not the facade.
type Store interface {
	Pinger
	KVStore
	CounterStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// CounterStore provides atomic counter operations for quota accounting.
type CounterStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	// ReserveCounter atomically increments key by amount only if the result
	// would not exceed limit. Returns the used total after the call and
	// whether the increment was applied. A fresh key gets the given TTL.
	ReserveCounter(ctx context.Context, key string, limit, amount int64, ttl time.Duration) (used int64, granted bool, err error)
}

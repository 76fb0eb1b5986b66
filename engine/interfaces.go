package engine

import (
	"context"

	"lampkit/core"
)

// Storage keys owned by the service.
const (
	KeyLeaderboard = "leaderboard"
	KeyPending     = "pendingTransactions"
)

// ErrNotFound is returned by Storage.Get for unknown keys.
var ErrNotFound = core.ErrNotFound

// Storage is the local key-value store backing persisted service state.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

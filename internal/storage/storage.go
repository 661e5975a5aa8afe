// Package storage provides the durable object store used for strategy
// tracking state and P&L archives.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no object
var ErrNotFound = errors.New("object not found")

// ObjectStore is a minimal key/blob interface. Keys are slash-separated
// paths relative to the configured prefix.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

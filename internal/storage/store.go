// Package storage persists the small slice of daemon state that must outlive
// a single request: the sealed cloud credential and UI preferences.
package storage

import (
	"context"
	"errors"
)

// Well-known keys. The credential has its own keyspace so preference sweeps
// and future pref migrations can never touch it.
const (
	KeyCloudAPIKey = "secret:cloud_api_key"
	PrefPrefix     = "pref:"
)

// ErrNotFound reports an absent key. Callers treat it as "nothing stored",
// every other error means the host environment is broken and propagates
// unchanged.
var ErrNotFound = errors.New("storage: key not found")

// Store is the persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

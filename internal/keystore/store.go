package keystore

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marks every failure that comes from the backing store
// itself (connection refused, timeout, protocol error). A missing key is never
// reported through it.
var ErrStoreUnavailable = errors.New("keystore: store unavailable")

// DefaultOpTimeout bounds every round trip when the caller does not configure
// one.
const DefaultOpTimeout = 250 * time.Millisecond

// KeyStore is the minimal key/value contract the cache layer needs. Values are
// opaque bytes; a ttl <= 0 stores the value until it is deleted.
type KeyStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Del(ctx context.Context, key string) (int64, error)
	// DelByPattern enumerates keys matching a glob pattern and deletes them.
	// Enumeration and deletion are separate steps, so keys created in between
	// survive.
	DelByPattern(ctx context.Context, pattern string) (int64, error)
	FlushAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return &storeError{op: op, err: err}
}

type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return "keystore: " + e.op + ": " + e.err.Error()
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

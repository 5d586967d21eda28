// Package cache is the read cache used by the repository layer. Entries are
// invalidated explicitly on writes.
package cache

import (
	"context"
	"time"

	"github.com/juju/errors"
)

// ErrMiss is returned by Get when the key is absent or expired.
const ErrMiss = errors.ConstError("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

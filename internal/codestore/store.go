// Package codestore is the shared key-value store with per-key expiry that holds
// connection codes and viewer connections across processes.
package codestore

import (
	"context"
	"time"

	"github.com/psds-microservice/homecam-relay/internal/errs"
)

// ErrNotFound is returned for absent keys. An expired key is indistinguishable from one that never existed.
var ErrNotFound = errs.ErrNotFound

// Store is the narrow set of atomic single-key operations the code service relies on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes only when the key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	// TTL returns the remaining lifetime of key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	AddMember(ctx context.Context, key, member string, ttl time.Duration) error
	Members(ctx context.Context, key string) ([]string, error)
	RemoveMember(ctx context.Context, key, member string) error

	Ping(ctx context.Context) error
	Close() error
}

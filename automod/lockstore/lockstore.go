// Package lockstore provides atomic acquire-once semantics over a
// shared store, with a TTL bound on every acquisition.
//
// Two consumers in the moderation core: the callback token service
// marks nonces as consumed (acquire with no release, TTL = remaining
// token lifetime), and the callback concurrency guard takes short
// exclusive locks around handler execution (explicit release, TTL as a
// crash safety net). Both need check-and-set atomicity across bot
// instances, so the redis implementation is the production one.
package lockstore

import (
	"context"
	"time"
)

type LockStore interface {
	// AcquireOnce atomically claims (name, key) if nobody holds it.
	// Returns false without error when the claim is already held and
	// its TTL has not lapsed.
	AcquireOnce(ctx context.Context, name, key string, ttl time.Duration) (bool, error)
	// Release drops a claim early. Releasing an unheld or expired
	// claim is not an error.
	Release(ctx context.Context, name, key string) error
}

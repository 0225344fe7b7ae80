package lockstore

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemLockStore keeps claims in an in-process concurrent map. Expired
// entries are dropped lazily on the next acquire attempt.
type MemLockStore struct {
	claims *xsync.MapOf[string, time.Time]
}

func NewMemLockStore() *MemLockStore {
	return &MemLockStore{
		claims: xsync.NewMapOf[string, time.Time](),
	}
}

var _ LockStore = (*MemLockStore)(nil)

func (s *MemLockStore) AcquireOnce(ctx context.Context, name, key string, ttl time.Duration) (bool, error) {
	now := time.Now()
	acquired := false
	s.claims.Compute(name+"/"+key, func(expiry time.Time, loaded bool) (time.Time, bool) {
		if loaded && expiry.After(now) {
			return expiry, false
		}
		acquired = true
		return now.Add(ttl), false
	})
	return acquired, nil
}

func (s *MemLockStore) Release(ctx context.Context, name, key string) error {
	s.claims.Delete(name + "/" + key)
	return nil
}

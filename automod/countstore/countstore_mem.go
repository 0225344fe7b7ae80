package countstore

import (
	"context"
	"sync"
	"time"
)

// MemCountStore is an in-process implementation, used in tests and
// single-instance deployments without redis.
type MemCountStore struct {
	lk             sync.Mutex
	counts         map[string]int
	distinctCounts map[string]map[string]bool
	windows        map[string][]time.Time
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts:         make(map[string]int),
		distinctCounts: make(map[string]map[string]bool),
		windows:        make(map[string][]time.Time),
	}
}

var _ CountStore = (*MemCountStore)(nil)

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.counts[periodBucket(name, val, period)], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour, PeriodMinute} {
		s.counts[periodBucket(name, val, p)]++
	}
	return nil
}

func (s *MemCountStore) IncrementPeriod(ctx context.Context, name, val, period string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.counts[periodBucket(name, val, period)]++
	return nil
}

func (s *MemCountStore) GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return len(s.distinctCounts[periodBucket(name, bucket, period)]), nil
}

func (s *MemCountStore) IncrementDistinct(ctx context.Context, name, bucket, val string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		k := periodBucket(name, bucket, p)
		m, ok := s.distinctCounts[k]
		if !ok {
			m = make(map[string]bool)
			s.distinctCounts[k] = m
		}
		m[val] = true
	}
	return nil
}

func (s *MemCountStore) AddToWindow(ctx context.Context, name, val string, window time.Duration) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	k := windowBucket(name, val)
	now := time.Now()
	kept := pruneWindow(s.windows[k], now.Add(-window))
	kept = append(kept, now)
	s.windows[k] = kept
	return len(kept), nil
}

func (s *MemCountStore) GetWindowCount(ctx context.Context, name, val string, window time.Duration) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	k := windowBucket(name, val)
	kept := pruneWindow(s.windows[k], time.Now().Add(-window))
	s.windows[k] = kept
	return len(kept), nil
}

func pruneWindow(stamps []time.Time, cutoff time.Time) []time.Time {
	out := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

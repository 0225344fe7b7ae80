package flagstore

import (
	"context"
	"sync"
)

type MemFlagStore struct {
	lk   sync.Mutex
	data map[string][]string
}

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		data: make(map[string][]string),
	}
}

var _ FlagStore = (*MemFlagStore)(nil)

func (s *MemFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out, nil
}

func (s *MemFlagStore) Add(ctx context.Context, key string, flags []string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	v := append(s.data[key], flags...)
	s.data[key] = dedupeStrings(v)
	return nil
}

// does not error if flags not in set
func (s *MemFlagStore) Remove(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	m := make(map[string]bool, len(s.data[key]))
	var order []string
	for _, f := range s.data[key] {
		if !m[f] {
			m[f] = true
			order = append(order, f)
		}
	}
	for _, f := range flags {
		delete(m, f)
	}
	out := []string{}
	for _, f := range order {
		if m[f] {
			out = append(out, f)
		}
	}
	s.data[key] = out
	return nil
}

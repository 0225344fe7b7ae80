// Package setstore answers membership questions against named string
// sets loaded at startup: suspicious link domains for the fallback
// estimator, callback actions marked shareable, and similar static
// policy lists.
package setstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

type MemSetStore struct {
	lk   sync.RWMutex
	sets map[string]map[string]bool
}

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		sets: make(map[string]map[string]bool),
	}
}

var _ SetStore = (*MemSetStore)(nil)

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	set, ok := s.sets[name]
	if !ok {
		// NOTE: returns false when the entire set isn't configured
		return false, nil
	}
	return set[val], nil
}

func (s *MemSetStore) AddToSet(ctx context.Context, name string, vals []string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, ok := s.sets[name]
	if !ok {
		m = make(map[string]bool, len(vals))
		s.sets[name] = m
	}
	for _, v := range vals {
		m[v] = true
	}
	return nil
}

// LoadFromFileJSON replaces set contents from a JSON file shaped as
// {"set-name": ["val", ...], ...}.
func (s *MemSetStore) LoadFromFileJSON(p string) error {

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var lists map[string][]string
	if err := json.Unmarshal(raw, &lists); err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	for name, l := range lists {
		m := make(map[string]bool, len(l))
		for _, val := range l {
			m[val] = true
		}
		s.sets[name] = m
	}
	return nil
}

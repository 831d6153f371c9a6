package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

var errInjected = errors.New("injected store failure")

// memStore is an in-memory RecordStore with failure injection.
type memStore struct {
	mu         sync.Mutex
	records    map[string]*PositionedRecord
	failWrites map[string]bool
	fetchErr   error
	countErr   error
	writes     int
}

func newMemStore(recs ...PositionedRecord) *memStore {
	s := &memStore{records: map[string]*PositionedRecord{}, failWrites: map[string]bool{}}
	for i := range recs {
		rec := recs[i]
		s.records[rec.ID] = &rec
	}
	return s
}

func (s *memStore) pendingLocked(includeComputed bool) []PositionedRecord {
	var out []PositionedRecord
	for _, r := range s.records {
		if r.GridCode == "" {
			continue
		}
		if !includeComputed && r.Coordinates != nil {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) FetchPending(_ context.Context, limit, offset int, includeComputed bool) ([]PositionedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	all := s.pendingLocked(includeComputed)
	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (s *memStore) WriteCoordinates(_ context.Context, id string, c galaxy.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites[id] {
		return errInjected
	}
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("no record %s", id)
	}
	r.Coordinates = &c
	s.writes++
	return nil
}

func (s *memStore) CountPending(_ context.Context, includeComputed bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.pendingLocked(includeComputed)), nil
}

func (s *memStore) computedLocked() []*PositionedRecord {
	var out []*PositionedRecord
	for _, r := range s.records {
		if r.Coordinates != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) ClearCoordinates(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	computed := s.computedLocked()
	n := min(limit, len(computed))
	for _, r := range computed[:n] {
		r.Coordinates = nil
	}
	return n, nil
}

func (s *memStore) CountComputed(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.computedLocked()), nil
}

func (s *memStore) ListComputed(_ context.Context, limit, offset int) ([]PositionedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	computed := s.computedLocked()
	if offset >= len(computed) {
		return nil, nil
	}
	end := min(offset+limit, len(computed))
	out := make([]PositionedRecord, 0, end-offset)
	for _, r := range computed[offset:end] {
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) get(id string) PositionedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.records[id]
}

func (s *memStore) set(id string, c *galaxy.Coordinates) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Coordinates = c
}

package record

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used for tests and single-node runs
// with no durability requirement.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.EventID]; exists {
		return ErrDuplicateID
	}
	s.records[rec.EventID] = rec.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, eventID string, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(rec.Status, status) {
		return ErrBadTransition
	}
	rec.Status = status
	if status == StatusFailed {
		rec.Error = errMsg
	}
	rec.LastUpdate = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetLayer(_ context.Context, eventID, layer string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	rec.Layers[layer] = cloneMap(payload)
	rec.LastUpdate = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendAudit(_ context.Context, eventID string, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	rec.AuditLog = append(rec.AuditLog, entry)
	rec.LastUpdate = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendHandoff(_ context.Context, eventID string, handoff Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	rec.Handoffs = append(rec.Handoffs, handoff)
	rec.LastUpdate = time.Now().UTC()
	return nil
}

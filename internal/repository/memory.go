package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/turnstile/internal/domain"
)

// MemoryStore is a process-local domain.Repository. State is lost on exit.
// A single mutex serialises every operation, so claims are trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	taps     []*domain.TapRecord
	byID     map[string]*domain.TapRecord
	denylist map[domain.Fingerprint]time.Time
	seen     map[domain.Fingerprint]time.Time
	closed   bool
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*domain.TapRecord),
		denylist: make(map[domain.Fingerprint]time.Time),
		seen:     make(map[domain.Fingerprint]time.Time),
	}
}

func (m *MemoryStore) AppendTap(ctx context.Context, rec *domain.TapRecord) error {
	if rec == nil || rec.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, ok := m.byID[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate tap id %s", ErrInvalidInput, rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	m.seq++
	rec.Seq = m.seq

	stored := cloneTap(rec)
	m.taps = append(m.taps, stored)
	m.byID[stored.ID] = stored
	return nil
}

func (m *MemoryStore) ClaimLatestUnmatchedApprovedEntry(ctx context.Context, fp domain.Fingerprint, exitTime time.Time) (*domain.TapRecord, error) {
	if fp == "" {
		return nil, fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var best *domain.TapRecord
	for _, rec := range m.taps {
		if rec.Fingerprint != fp || !rec.IsOpenEntry() {
			continue
		}
		if best == nil || rec.Timestamp.After(best.Timestamp) ||
			(rec.Timestamp.Equal(best.Timestamp) && rec.Seq > best.Seq) {
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}

	t := exitTime.UTC()
	best.MatchedExitTime = &t
	return cloneTap(best), nil
}

func (m *MemoryStore) MarkMatched(ctx context.Context, entryID string, exitTime time.Time) error {
	if entryID == "" {
		return fmt.Errorf("%w: entry id is required", ErrInvalidInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[entryID]
	if !ok || rec.Direction != domain.DirectionEntry {
		return ErrNotFound
	}
	if rec.MatchedExitTime != nil {
		if rec.MatchedExitTime.UnixMilli() == exitTime.UnixMilli() {
			return nil
		}
		return ErrAlreadyMatched
	}

	t := exitTime.UTC()
	rec.MatchedExitTime = &t
	return nil
}

func (m *MemoryStore) GetTap(ctx context.Context, id string) (*domain.TapRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTap(rec), nil
}

func (m *MemoryStore) IsDenylisted(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return m.has(m.denylist, fp)
}

func (m *MemoryStore) AddToDenylist(ctx context.Context, fp domain.Fingerprint) error {
	return m.add(m.denylist, fp)
}

func (m *MemoryStore) HasBeenSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return m.has(m.seen, fp)
}

func (m *MemoryStore) MarkSeen(ctx context.Context, fp domain.Fingerprint) error {
	return m.add(m.seen, fp)
}

func (m *MemoryStore) has(set map[domain.Fingerprint]time.Time, fp domain.Fingerprint) (bool, error) {
	if fp == "" {
		return false, fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := set[fp]
	return ok, nil
}

func (m *MemoryStore) add(set map[domain.Fingerprint]time.Time, fp domain.Fingerprint) error {
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := set[fp]; !ok {
		set[fp] = time.Now().UTC()
	}
	return nil
}

// Ping fails once the store is closed.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory store closed")
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneTap(rec *domain.TapRecord) *domain.TapRecord {
	c := *rec
	if rec.MatchedExitTime != nil {
		t := *rec.MatchedExitTime
		c.MatchedExitTime = &t
	}
	return &c
}

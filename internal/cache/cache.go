package cache

import (
	"context"
	"fmt"

	"github.com/opensource-finance/turnstile/internal/domain"
)

// New builds the risk store selected by cfg.
// "repository" reuses the durable store passed in; "redis" connects to Redis.
// Either is wrapped in a MemoRiskStore when LocalMemoSize > 0.
func New(cfg domain.RiskConfig, repo domain.RiskStore) (domain.RiskStore, error) {
	var store domain.RiskStore

	switch cfg.Type {
	case "", "repository":
		if repo == nil {
			return nil, fmt.Errorf("repository risk store requires a repository")
		}
		store = repo

	case "redis":
		rs, err := NewRedisRiskStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis risk store: %w", err)
		}
		store = rs

	default:
		return nil, fmt.Errorf("unsupported risk store type: %s", cfg.Type)
	}

	if cfg.LocalMemoSize > 0 {
		store = NewMemoRiskStore(store, cfg.LocalMemoSize)
	}
	return store, nil
}

// MemoRiskStore fronts a RiskStore with an in-process memo of positive
// answers. Negative answers always go to the backing store, since another
// node may have added the card since.
type MemoRiskStore struct {
	next     domain.RiskStore
	denylist *LRUSet
	seen     *LRUSet
}

// NewMemoRiskStore wraps next with memos of the given size.
func NewMemoRiskStore(next domain.RiskStore, size int) *MemoRiskStore {
	return &MemoRiskStore{
		next:     next,
		denylist: NewLRUSet(size),
		seen:     NewLRUSet(size),
	}
}

func (m *MemoRiskStore) IsDenylisted(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return memoLookup(ctx, m.denylist, fp, m.next.IsDenylisted)
}

func (m *MemoRiskStore) AddToDenylist(ctx context.Context, fp domain.Fingerprint) error {
	if err := m.next.AddToDenylist(ctx, fp); err != nil {
		return err
	}
	m.denylist.Add(string(fp))
	return nil
}

func (m *MemoRiskStore) HasBeenSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return memoLookup(ctx, m.seen, fp, m.next.HasBeenSeen)
}

func (m *MemoRiskStore) MarkSeen(ctx context.Context, fp domain.Fingerprint) error {
	// Already seen means the write is a no-op downstream too.
	if m.seen.Contains(string(fp)) {
		return nil
	}
	if err := m.next.MarkSeen(ctx, fp); err != nil {
		return err
	}
	m.seen.Add(string(fp))
	return nil
}

// Unwrap returns the backing store.
func (m *MemoRiskStore) Unwrap() domain.RiskStore {
	return m.next
}

// Stats returns memo sizes.
func (m *MemoRiskStore) Stats() (denylisted, seen int) {
	denylisted, _ = m.denylist.Stats()
	seen, _ = m.seen.Stats()
	return denylisted, seen
}

func memoLookup(ctx context.Context, memo *LRUSet, fp domain.Fingerprint, lookup func(context.Context, domain.Fingerprint) (bool, error)) (bool, error) {
	if memo.Contains(string(fp)) {
		return true, nil
	}
	ok, err := lookup(ctx, fp)
	if err != nil {
		return false, err
	}
	if ok {
		memo.Add(string(fp))
	}
	return ok, nil
}

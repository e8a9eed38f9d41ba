// Package risk implements the pre-authorization risk checks: a permanent
// denylist veto and first-seen tracking for every card.
package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/turnstile/internal/domain"
)

// PreCheckResult is the outcome of a risk pre-check.
type PreCheckResult struct {
	// Blocked is true iff the card is denylisted.
	Blocked bool

	// FirstSeen is true when this call recorded the card for the first time.
	FirstSeen bool
}

// Pipeline runs risk checks against a RiskStore. It holds no state of its
// own; every call reads the store.
type Pipeline struct {
	store domain.RiskStore
}

// NewPipeline creates a risk pipeline over store.
func NewPipeline(store domain.RiskStore) *Pipeline {
	return &Pipeline{store: store}
}

// PreCheck consults the denylist, then records the card as seen. The seen
// mark is written even for blocked cards and is never retracted.
func (p *Pipeline) PreCheck(ctx context.Context, fp domain.Fingerprint) (PreCheckResult, error) {
	var res PreCheckResult

	blocked, err := p.store.IsDenylisted(ctx, fp)
	if err != nil {
		return res, fmt.Errorf("denylist lookup: %w", err)
	}
	res.Blocked = blocked

	seen, err := p.store.HasBeenSeen(ctx, fp)
	if err != nil {
		return res, fmt.Errorf("seen lookup: %w", err)
	}
	if !seen {
		if err := p.store.MarkSeen(ctx, fp); err != nil {
			return res, fmt.Errorf("mark seen: %w", err)
		}
		res.FirstSeen = true
		slog.Debug("card seen for the first time", "fingerprint", fp)
	}

	return res, nil
}

// RecordDecline adds the card to the denylist. Adding a card that is
// already listed succeeds.
func (p *Pipeline) RecordDecline(ctx context.Context, fp domain.Fingerprint) error {
	if err := p.store.AddToDenylist(ctx, fp); err != nil {
		return fmt.Errorf("denylist add: %w", err)
	}
	return nil
}

// Package journey pairs exit taps with the entry tap that opened them.
package journey

import (
	"context"
	"fmt"

	"github.com/opensource-finance/turnstile/internal/domain"
)

// Matcher claims entries from a JourneyStore.
type Matcher struct {
	store domain.JourneyStore
}

// NewMatcher creates a matcher over store.
func NewMatcher(store domain.JourneyStore) *Matcher {
	return &Matcher{store: store}
}

// ClaimEntryFor finds and marks the latest open entry for the exit's card.
// It returns nil, nil when no entry is eligible. Selection and marking happen
// in one store operation, so concurrent exits never share an entry.
func (m *Matcher) ClaimEntryFor(ctx context.Context, exit *domain.TapRecord) (*domain.Journey, error) {
	if exit == nil || exit.Direction != domain.DirectionExit {
		return nil, fmt.Errorf("%w: claim requires an exit tap", domain.ErrMalformedTap)
	}

	entry, err := m.store.ClaimLatestUnmatchedApprovedEntry(ctx, exit.Fingerprint, exit.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("claim entry: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	return &domain.Journey{Entry: entry, Exit: exit}, nil
}

// Confirm records the exit time on the claimed entry once the exit is
// approved.
func (m *Matcher) Confirm(ctx context.Context, j *domain.Journey) error {
	if err := m.store.MarkMatched(ctx, j.Entry.ID, j.Exit.Timestamp); err != nil {
		return fmt.Errorf("mark matched: %w", err)
	}
	return nil
}

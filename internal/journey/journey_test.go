package journey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/opensource-finance/turnstile/internal/repository"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func appendEntry(t *testing.T, store domain.JourneyStore, fp domain.Fingerprint, at time.Time, approved bool) *domain.TapRecord {
	t.Helper()
	rec := &domain.TapRecord{
		Fingerprint: fp,
		TerminalID:  "gate-in",
		Timestamp:   at,
		Direction:   domain.DirectionEntry,
		Approved:    approved,
	}
	if err := store.AppendTap(context.Background(), rec); err != nil {
		t.Fatalf("AppendTap failed: %v", err)
	}
	return rec
}

func exitTap(fp domain.Fingerprint, at time.Time) *domain.TapRecord {
	return &domain.TapRecord{
		ID:          "exit-" + at.Format("150405.000"),
		Fingerprint: fp,
		TerminalID:  "gate-out",
		Timestamp:   at,
		Direction:   domain.DirectionExit,
	}
}

func TestClaimEntryFor(t *testing.T) {
	ctx := context.Background()

	t.Run("ClaimsLatestApprovedEntry", func(t *testing.T) {
		store := repository.NewMemoryStore()
		appendEntry(t, store, "fp", t0, true)
		latest := appendEntry(t, store, "fp", t0.Add(time.Minute), true)
		appendEntry(t, store, "fp", t0.Add(2*time.Minute), false)

		m := NewMatcher(store)
		j, err := m.ClaimEntryFor(ctx, exitTap("fp", t0.Add(10*time.Minute)))
		if err != nil {
			t.Fatalf("ClaimEntryFor failed: %v", err)
		}
		if j == nil || j.Entry.ID != latest.ID {
			t.Fatalf("expected entry %s, got %+v", latest.ID, j)
		}
		if j.Elapsed() != 9*time.Minute {
			t.Errorf("expected 9m elapsed, got %v", j.Elapsed())
		}
	})

	t.Run("NoEntryIsExitOnly", func(t *testing.T) {
		m := NewMatcher(repository.NewMemoryStore())
		j, err := m.ClaimEntryFor(ctx, exitTap("fp", t0))
		if err != nil {
			t.Fatalf("ClaimEntryFor failed: %v", err)
		}
		if j != nil {
			t.Errorf("expected no journey, got %+v", j)
		}
	})

	t.Run("ClaimedEntryIsNotReused", func(t *testing.T) {
		store := repository.NewMemoryStore()
		appendEntry(t, store, "fp", t0, true)
		m := NewMatcher(store)

		if j, _ := m.ClaimEntryFor(ctx, exitTap("fp", t0.Add(time.Minute))); j == nil {
			t.Fatal("expected first exit to claim the entry")
		}
		if j, _ := m.ClaimEntryFor(ctx, exitTap("fp", t0.Add(2*time.Minute))); j != nil {
			t.Errorf("expected second exit to find nothing, got %+v", j)
		}
	})

	t.Run("RejectsEntryTap", func(t *testing.T) {
		m := NewMatcher(repository.NewMemoryStore())
		entry := &domain.TapRecord{Fingerprint: "fp", Direction: domain.DirectionEntry}
		if _, err := m.ClaimEntryFor(ctx, entry); !errors.Is(err, domain.ErrMalformedTap) {
			t.Errorf("expected ErrMalformedTap, got %v", err)
		}
	})

	t.Run("ConcurrentExitsClaimOnce", func(t *testing.T) {
		store := repository.NewMemoryStore()
		appendEntry(t, store, "fp", t0, true)
		m := NewMatcher(store)

		const exits = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for i := 0; i < exits; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				j, err := m.ClaimEntryFor(ctx, exitTap("fp", t0.Add(time.Duration(i+1)*time.Second)))
				if err != nil {
					t.Errorf("ClaimEntryFor failed: %v", err)
					return
				}
				if j != nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if claimed != 1 {
			t.Errorf("expected exactly one claim, got %d", claimed)
		}
	})
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	entry := appendEntry(t, store, "fp", t0, true)
	m := NewMatcher(store)

	exit := exitTap("fp", t0.Add(time.Minute))
	j, err := m.ClaimEntryFor(ctx, exit)
	if err != nil || j == nil {
		t.Fatalf("expected claim, got %v, %v", j, err)
	}
	if err := m.Confirm(ctx, j); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	got, _ := store.GetTap(ctx, entry.ID)
	if got.MatchedExitTime == nil || !got.MatchedExitTime.Equal(exit.Timestamp) {
		t.Errorf("expected matched exit time %v, got %v", exit.Timestamp, got.MatchedExitTime)
	}

	// A different exit time never overwrites the match.
	other := &domain.Journey{Entry: entry, Exit: exitTap("fp", t0.Add(time.Hour))}
	if err := m.Confirm(ctx, other); !errors.Is(err, repository.ErrAlreadyMatched) {
		t.Errorf("expected ErrAlreadyMatched, got %v", err)
	}
}

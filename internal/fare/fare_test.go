package fare

import (
	"testing"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func taps(elapsed time.Duration) (*domain.TapRecord, *domain.TapRecord) {
	entry := &domain.TapRecord{TerminalID: "north", Timestamp: t0, Direction: domain.DirectionEntry}
	exit := &domain.TapRecord{TerminalID: "south", Timestamp: t0.Add(elapsed), Direction: domain.DirectionExit}
	return entry, exit
}

func TestElapsedTime(t *testing.T) {
	tests := []struct {
		name    string
		rate    string
		elapsed time.Duration
		want    string
	}{
		{"SeventyFiveSeconds", "1", 75 * time.Second, "75"},
		{"TruncatesPartialSecond", "1", 75*time.Second + 900*time.Millisecond, "75"},
		{"ZeroElapsed", "1", 0, "0"},
		{"ExitBeforeEntryClampsToZero", "1", -30 * time.Second, "0"},
		{"FractionalRate", "0.05", 120 * time.Second, "6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &ElapsedTime{Rate: decimal.RequireFromString(tt.rate)}
			entry, exit := taps(tt.elapsed)

			got := p.Fare(entry, exit)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Fare() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExpression(t *testing.T) {
	t.Run("FlatFare", func(t *testing.T) {
		p, err := NewExpression("2.75", nil)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		entry, exit := taps(time.Hour)
		if got := p.Fare(entry, exit); !got.Equal(decimal.RequireFromString("2.75")) {
			t.Errorf("expected 2.75, got %s", got)
		}
	})

	t.Run("UsesVariables", func(t *testing.T) {
		p, err := NewExpression(`entry_terminal == exit_terminal ? 0 : elapsed_seconds / 60 + 1`, nil)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		entry, exit := taps(150 * time.Second)
		if got := p.Fare(entry, exit); !got.Equal(decimal.NewFromInt(3)) {
			t.Errorf("expected 3, got %s", got)
		}

		exit.TerminalID = entry.TerminalID
		if got := p.Fare(entry, exit); !got.IsZero() {
			t.Errorf("expected 0 for same-station exit, got %s", got)
		}
	})

	t.Run("NegativeResultClampsToZero", func(t *testing.T) {
		p, err := NewExpression("elapsed_seconds - 1000", nil)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		entry, exit := taps(10 * time.Second)
		if got := p.Fare(entry, exit); !got.IsZero() {
			t.Errorf("expected 0, got %s", got)
		}
	})

	t.Run("ExitBeforeEntryClampsToZero", func(t *testing.T) {
		p, err := NewExpression("2.75", nil)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		entry, exit := taps(-time.Minute)
		if got := p.Fare(entry, exit); !got.IsZero() {
			t.Errorf("expected 0, got %s", got)
		}
	})

	t.Run("RuntimeErrorFallsBack", func(t *testing.T) {
		fallback := &ElapsedTime{Rate: decimal.NewFromInt(2)}
		p, err := NewExpression("100 / (elapsed_seconds - elapsed_seconds)", fallback)
		if err != nil {
			t.Fatalf("NewExpression failed: %v", err)
		}
		entry, exit := taps(10 * time.Second)
		if got := p.Fare(entry, exit); !got.Equal(decimal.NewFromInt(20)) {
			t.Errorf("expected fallback fare 20, got %s", got)
		}
	})

	t.Run("CompileError", func(t *testing.T) {
		if _, err := NewExpression("elapsed_seconds +", nil); err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("RejectsNonNumeric", func(t *testing.T) {
		if _, err := NewExpression(`entry_terminal`, nil); err == nil {
			t.Error("expected error for string expression")
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("DefaultsToElapsedTime", func(t *testing.T) {
		calc, err := New(domain.FareConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := calc.(*ElapsedTime); !ok {
			t.Errorf("expected *ElapsedTime, got %T", calc)
		}
		entry, exit := taps(75 * time.Second)
		if got := calc.Fare(entry, exit); !got.Equal(decimal.NewFromInt(75)) {
			t.Errorf("expected 75, got %s", got)
		}
	})

	t.Run("Expression", func(t *testing.T) {
		calc, err := New(domain.FareConfig{Expression: "3"})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := calc.(*Expression); !ok {
			t.Errorf("expected *Expression, got %T", calc)
		}
	})

	t.Run("InvalidRate", func(t *testing.T) {
		if _, err := New(domain.FareConfig{RatePerSecond: "fast"}); err == nil {
			t.Error("expected error for invalid rate")
		}
		if _, err := New(domain.FareConfig{RatePerSecond: "-1"}); err == nil {
			t.Error("expected error for negative rate")
		}
	})
}

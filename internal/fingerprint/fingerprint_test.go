package fingerprint

import (
	"strings"
	"testing"
)

func TestHasher(t *testing.T) {
	h, err := New([]byte("test-secret"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("Deterministic", func(t *testing.T) {
		a := h.Fingerprint("4111111111111111")
		b := h.Fingerprint("4111111111111111")
		if a != b {
			t.Errorf("expected equal fingerprints, got %s and %s", a, b)
		}
	})

	t.Run("FixedWidth", func(t *testing.T) {
		for _, pan := range []string{"1", "4111111111111111", strings.Repeat("9", 19)} {
			if got := len(h.Fingerprint(pan)); got != Size {
				t.Errorf("fingerprint of %q has length %d, want %d", pan, got, Size)
			}
		}
	})

	t.Run("DoesNotContainRawID", func(t *testing.T) {
		pan := "4111111111111111"
		if strings.Contains(string(h.Fingerprint(pan)), pan) {
			t.Error("fingerprint must not contain the raw card number")
		}
	})

	t.Run("DistinctCards", func(t *testing.T) {
		if h.Fingerprint("4111111111111111") == h.Fingerprint("4111111111111112") {
			t.Error("expected different fingerprints for different cards")
		}
	})

	t.Run("IgnoresSurroundingWhitespace", func(t *testing.T) {
		if h.Fingerprint(" 4111111111111111\n") != h.Fingerprint("4111111111111111") {
			t.Error("expected whitespace to be ignored")
		}
	})

	t.Run("KeyedBySecret", func(t *testing.T) {
		other, err := New([]byte("another-secret"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if h.Fingerprint("4111111111111111") == other.Fingerprint("4111111111111111") {
			t.Error("expected different fingerprints under different secrets")
		}
	})
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(nil); err != ErrEmptySecret {
		t.Errorf("expected ErrEmptySecret, got %v", err)
	}
}

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedTap is returned when a tap cannot be processed at all.
// It is an input error, not a business decline.
var ErrMalformedTap = errors.New("malformed tap")

// Fingerprint is the one-way storage key derived from a raw card number.
// It is the only card identifier ever persisted.
type Fingerprint string

// String returns the fingerprint as stored.
func (f Fingerprint) String() string { return string(f) }

// Direction tells whether a tap opens or closes a journey.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// ParseDirection accepts "entry" or "exit" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionEntry:
		return DirectionEntry, nil
	case DirectionExit:
		return DirectionExit, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrMalformedTap, s)
	}
}

// Tap is a fully parsed tap as delivered by a terminal.
type Tap struct {
	// Card data as read by the terminal. PAN never leaves the process
	// except towards the payment network.
	PAN        string `json:"-"`
	Expiry     string `json:"-"`
	AID        string `json:"aid,omitempty"`
	Cryptogram string `json:"cryptogram,omitempty"`

	TerminalID string    `json:"terminalId"`
	Direction  Direction `json:"direction"`

	// Timestamp is the terminal's wall clock. Zero means "now".
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects taps that cannot enter the pipeline.
func (t *Tap) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: tap is required", ErrMalformedTap)
	}
	if strings.TrimSpace(t.PAN) == "" {
		return fmt.Errorf("%w: card number is required", ErrMalformedTap)
	}
	if strings.TrimSpace(t.TerminalID) == "" {
		return fmt.Errorf("%w: terminal id is required", ErrMalformedTap)
	}
	if t.Direction != DirectionEntry && t.Direction != DirectionExit {
		return fmt.Errorf("%w: direction must be entry or exit", ErrMalformedTap)
	}
	return nil
}

// TapRecord is one persisted tap.
//
// Records are append-only. The single permitted mutation is setting
// MatchedExitTime on an entry record, exactly once.
type TapRecord struct {
	ID          string      `json:"id"`
	Seq         int64       `json:"seq"` // insertion order, assigned by the store
	Fingerprint Fingerprint `json:"fingerprint"`
	TerminalID  string      `json:"terminalId"`
	Cryptogram  string      `json:"cryptogram,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
	Direction   Direction   `json:"direction"`
	Approved    bool        `json:"approved"`

	MatchedExitTime *time.Time `json:"matchedExitTime,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// IsOpenEntry reports whether the record can still be paired with an exit.
func (r *TapRecord) IsOpenEntry() bool {
	return r.Direction == DirectionEntry && r.Approved && r.MatchedExitTime == nil
}

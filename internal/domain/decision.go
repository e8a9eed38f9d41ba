package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionStatus is the caller-visible outcome of a tap.
type DecisionStatus string

// Terminal states of the tap state machine.
const (
	StatusApproved     DecisionStatus = "APPROVED"
	StatusDeclinedPre  DecisionStatus = "DECLINED_PRE"  // entry declined before travel
	StatusDeclinedPost DecisionStatus = "DECLINED_POST" // exit declined after travel
)

// Decision reasons.
const (
	ReasonVerified              = "verified"
	ReasonAuthorized            = "authorized"
	ReasonDenylisted            = "denylisted"
	ReasonAVRDeclined           = "avr_declined"
	ReasonAuthorizationDeclined = "authorization_declined"
	ReasonExitOnly              = "exit_only"
	ReasonGatewayFailure        = "gateway_failure"
	ReasonStorageFailure        = "storage_failure"
)

// Decision is the result of processing one tap.
type Decision struct {
	TapID       string           `json:"tapId"`
	Fingerprint Fingerprint      `json:"fingerprint"`
	TerminalID  string           `json:"terminalId"`
	Direction   Direction        `json:"direction"`
	Status      DecisionStatus   `json:"status"`
	Reason      string           `json:"reason"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	EntryTapID  string           `json:"entryTapId,omitempty"`
	FirstSeen   bool             `json:"firstSeen"`

	// Errors lists faults that were logged but did not change the outcome,
	// e.g. a failed denylist write after a decline.
	Errors []string `json:"errors,omitempty"`

	DecidedAt time.Time `json:"decidedAt"`
	ProcessMs int64     `json:"processMs"`
}

// Approved reports whether the rider may pass.
func (d *Decision) Approved() bool {
	return d.Status == StatusApproved
}

// Declined returns the decline status for a direction.
func Declined(dir Direction) DecisionStatus {
	if dir == DirectionExit {
		return StatusDeclinedPost
	}
	return StatusDeclinedPre
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Journey pairs a claimed entry with the exit that closed it.
// It lives for the duration of a single exit tap and is never stored.
type Journey struct {
	Entry *TapRecord
	Exit  *TapRecord
	Fare  decimal.Decimal
}

// Elapsed returns the time between entry and exit; negative on clock skew.
func (j *Journey) Elapsed() time.Duration {
	return j.Exit.Timestamp.Sub(j.Entry.Timestamp)
}

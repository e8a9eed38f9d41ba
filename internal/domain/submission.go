package domain

import (
	"encoding/xml"
	"time"
)

// TapSubmission is a tap as sent by a terminal. The same shape is accepted
// as JSON and as the terminals' XML PaymentRequest document.
type TapSubmission struct {
	XMLName    xml.Name  `json:"-" xml:"PaymentRequest"`
	TerminalID string    `json:"terminalId" xml:"TerminalId"`
	Card       CardData  `json:"cardData" xml:"CardData"`
	Direction  string    `json:"direction" xml:"Mode"`
	Timestamp  time.Time `json:"timestamp" xml:"Timestamp,omitempty"`
}

// CardData is the EMV data read from the card.
type CardData struct {
	PAN        string `json:"pan" xml:"PAN"`
	Expiry     string `json:"expiry,omitempty" xml:"Expiry,omitempty"`
	AID        string `json:"aid,omitempty" xml:"AID,omitempty"`
	Cryptogram string `json:"cryptogram,omitempty" xml:"Cryptogram,omitempty"`
}

// ToTap converts the submission into a validated Tap.
func (s *TapSubmission) ToTap() (*Tap, error) {
	dir, err := ParseDirection(s.Direction)
	if err != nil {
		return nil, err
	}

	tap := &Tap{
		PAN:        s.Card.PAN,
		Expiry:     s.Card.Expiry,
		AID:        s.Card.AID,
		Cryptogram: s.Card.Cryptogram,
		TerminalID: s.TerminalID,
		Direction:  dir,
		Timestamp:  s.Timestamp,
	}
	if err := tap.Validate(); err != nil {
		return nil, err
	}
	return tap, nil
}

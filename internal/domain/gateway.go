package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Outcome is a payment network answer. Only two variants exist today; the
// type leaves room for an indeterminate variant later.
type Outcome int

const (
	OutcomeDeclined Outcome = iota
	OutcomeApproved
)

// Approved reports whether the network approved the request.
func (o Outcome) Approved() bool { return o == OutcomeApproved }

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	default:
		return "declined"
	}
}

// AuthorizationRequest is what the core sends to the payment network.
type AuthorizationRequest struct {
	Fingerprint Fingerprint
	TapID       string

	// Card data needed by the network. Never persisted.
	PAN        string
	Expiry     string
	AID        string
	Cryptogram string

	TerminalID string
	Amount     decimal.Decimal
	Currency   string
}

// AuthorizationGateway talks to a payment network. Both calls block the
// calling tap only. An error means the network could not be reached or
// answered nonsense; callers treat it as a decline.
type AuthorizationGateway interface {
	// Verify sends an account verification (AVR) before any fare is known.
	Verify(ctx context.Context, req *AuthorizationRequest) (Outcome, error)

	// Authorize asks the network to approve req.Amount.
	Authorize(ctx context.Context, req *AuthorizationRequest) (Outcome, error)
}

// GatewayConfig selects and configures the payment network client.
type GatewayConfig struct {
	// Type is "simulator" or "http"
	Type string `yaml:"type"`

	// HTTP network settings
	URL          string `yaml:"url"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"-"`
	CurrencyCode string `yaml:"currency_code"` // ISO 4217 numeric, e.g. "840"
	TimeoutSecs  int    `yaml:"timeout_secs"`

	// Mutual TLS towards the network. Empty cert and key mean plain TLS.
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	TLSCAFile   string `yaml:"tls_ca_file"`

	// Simulator decline rules (CEL). Variables: pan, amount, terminal_id.
	SimulatorAVRDecline  string `yaml:"simulator_avr_decline"`
	SimulatorAuthDecline string `yaml:"simulator_auth_decline"`
}

// Package gateway provides payment network clients: a JSON-over-HTTPS
// authorization client and a rule-driven simulator.
package gateway

import (
	"fmt"

	"github.com/opensource-finance/turnstile/internal/domain"
)

// New creates the gateway selected by cfg.
func New(cfg domain.GatewayConfig) (domain.AuthorizationGateway, error) {
	switch cfg.Type {
	case "", "simulator":
		return NewSimulator(cfg.SimulatorAVRDecline, cfg.SimulatorAuthDecline)
	case "http":
		return NewHTTPGateway(cfg, nil)
	default:
		return nil, fmt.Errorf("unsupported gateway type: %s", cfg.Type)
	}
}

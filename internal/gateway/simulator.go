package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/turnstile/internal/domain"
)

// Simulator answers like a card network using CEL decline rules over
// pan (string), amount (double) and terminal_id (string). A rule that
// evaluates to true declines. An empty rule approves everything.
type Simulator struct {
	avrDecline  cel.Program
	authDecline cel.Program
}

// NewSimulator compiles the AVR and authorization decline rules.
func NewSimulator(avrDecline, authDecline string) (*Simulator, error) {
	env, err := cel.NewEnv(
		cel.Variable("pan", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("terminal_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	avr, err := compileRule(env, "avr", avrDecline)
	if err != nil {
		return nil, err
	}
	auth, err := compileRule(env, "authorization", authDecline)
	if err != nil {
		return nil, err
	}

	return &Simulator{avrDecline: avr, authDecline: auth}, nil
}

// Verify applies the AVR rule with amount 0.
func (s *Simulator) Verify(ctx context.Context, req *domain.AuthorizationRequest) (domain.Outcome, error) {
	return s.decide(s.avrDecline, "verify", req, 0)
}

// Authorize applies the authorization rule to req.Amount.
func (s *Simulator) Authorize(ctx context.Context, req *domain.AuthorizationRequest) (domain.Outcome, error) {
	return s.decide(s.authDecline, "authorize", req, req.Amount.InexactFloat64())
}

func (s *Simulator) decide(rule cel.Program, op string, req *domain.AuthorizationRequest, amount float64) (domain.Outcome, error) {
	if rule == nil {
		return domain.OutcomeApproved, nil
	}

	out, _, err := rule.Eval(map[string]any{
		"pan":         req.PAN,
		"amount":      amount,
		"terminal_id": req.TerminalID,
	})
	if err != nil {
		return domain.OutcomeDeclined, fmt.Errorf("simulator %s rule: %w", op, err)
	}

	outcome := domain.OutcomeApproved
	if out == types.True {
		outcome = domain.OutcomeDeclined
	}

	slog.Debug("simulated network answer",
		"op", op,
		"tap_id", req.TapID,
		"amount", amount,
		"outcome", outcome.String(),
	)
	return outcome, nil
}

func compileRule(env *cel.Env, name, expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s rule: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%s rule must return bool, got %s", name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for %s rule: %w", name, err)
	}
	return program, nil
}

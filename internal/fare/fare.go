// Package fare prices a journey from its entry and exit taps.
package fare

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/shopspring/decimal"
)

// Calculator computes the fare for a journey. Implementations are pure and
// never fail; the result is never negative.
type Calculator interface {
	Fare(entry, exit *domain.TapRecord) decimal.Decimal
}

// New builds the calculator selected by cfg.
func New(cfg domain.FareConfig) (Calculator, error) {
	rate := decimal.NewFromInt(1)
	if cfg.RatePerSecond != "" {
		r, err := decimal.NewFromString(cfg.RatePerSecond)
		if err != nil {
			return nil, fmt.Errorf("invalid fare rate %q: %w", cfg.RatePerSecond, err)
		}
		if r.IsNegative() {
			return nil, fmt.Errorf("fare rate must not be negative, got %s", r)
		}
		rate = r
	}

	elapsed := &ElapsedTime{Rate: rate}
	if cfg.Expression == "" {
		return elapsed, nil
	}
	return NewExpression(cfg.Expression, elapsed)
}

// ElapsedTime charges Rate per whole elapsed second.
type ElapsedTime struct {
	Rate decimal.Decimal
}

// Fare returns whole seconds between the taps times Rate, or zero when the
// exit precedes the entry.
func (p *ElapsedTime) Fare(entry, exit *domain.TapRecord) decimal.Decimal {
	secs := elapsedSeconds(entry, exit)
	if secs == 0 {
		return decimal.Zero
	}
	return clamp(decimal.NewFromInt(secs).Mul(p.Rate))
}

// Expression prices journeys with a CEL expression. Variables:
// elapsed_seconds (int), entry_terminal and exit_terminal (string).
type Expression struct {
	source   string
	program  cel.Program
	fallback *ElapsedTime
}

// NewExpression compiles expr. Evaluation errors fall back to fallback.
func NewExpression(expr string, fallback *ElapsedTime) (*Expression, error) {
	if fallback == nil {
		fallback = &ElapsedTime{Rate: decimal.NewFromInt(1)}
	}

	env, err := cel.NewEnv(
		cel.Variable("elapsed_seconds", cel.IntType),
		cel.Variable("entry_terminal", cel.StringType),
		cel.Variable("exit_terminal", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile fare expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("fare expression must return int or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create fare program: %w", err)
	}

	return &Expression{source: expr, program: program, fallback: fallback}, nil
}

// Fare evaluates the expression and clamps the result to zero.
func (p *Expression) Fare(entry, exit *domain.TapRecord) decimal.Decimal {
	if exit.Timestamp.Before(entry.Timestamp) {
		return decimal.Zero
	}
	secs := elapsedSeconds(entry, exit)

	out, _, err := p.program.Eval(map[string]any{
		"elapsed_seconds": secs,
		"entry_terminal":  entry.TerminalID,
		"exit_terminal":   exit.TerminalID,
	})
	if err != nil {
		slog.Warn("fare expression failed, using elapsed time",
			"expression", p.source,
			"error", err,
		)
		return p.fallback.Fare(entry, exit)
	}

	amount, ok := toDecimal(out)
	if !ok {
		slog.Warn("fare expression returned non-numeric value, using elapsed time",
			"expression", p.source,
			"type", out.Type(),
		)
		return p.fallback.Fare(entry, exit)
	}
	return clamp(amount)
}

// elapsedSeconds truncates to whole seconds and never goes below zero.
func elapsedSeconds(entry, exit *domain.TapRecord) int64 {
	d := exit.Timestamp.Sub(entry.Timestamp)
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}

func toDecimal(val ref.Val) (decimal.Decimal, bool) {
	switch v := val.(type) {
	case types.Int:
		return decimal.NewFromInt(int64(v)), true
	case types.Double:
		return decimal.NewFromFloat(float64(v)), true
	default:
		return decimal.Zero, false
	}
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

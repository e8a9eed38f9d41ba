// Package tap reconciles transit taps into authorization decisions.
//
// Every tap runs the same pipeline: fingerprint the card, run the risk
// pre-check, then either verify the card (entry) or claim the open entry,
// price the journey and authorize the fare (exit). Each tap ends in exactly
// one persisted record and one decision. Any storage or network fault ends
// in a decline.
package tap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/opensource-finance/turnstile/internal/fare"
	"github.com/opensource-finance/turnstile/internal/fingerprint"
	"github.com/opensource-finance/turnstile/internal/journey"
	"github.com/opensource-finance/turnstile/internal/risk"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("turnstile-tap")

// Service is the tap reconciliation service.
type Service struct {
	hasher   *fingerprint.Hasher
	risk     *risk.Pipeline
	matcher  *journey.Matcher
	fares    fare.Calculator
	gateway  domain.AuthorizationGateway
	taps     domain.JourneyStore
	bus      domain.EventBus
	currency string
	now      func() time.Time
}

// NewService wires a tap service. bus may be nil, in which case decisions
// are not published.
func NewService(hasher *fingerprint.Hasher, riskPipeline *risk.Pipeline, matcher *journey.Matcher, fares fare.Calculator, gateway domain.AuthorizationGateway, taps domain.JourneyStore, bus domain.EventBus, currency string) *Service {
	return &Service{
		hasher:   hasher,
		risk:     riskPipeline,
		matcher:  matcher,
		fares:    fares,
		gateway:  gateway,
		taps:     taps,
		bus:      bus,
		currency: currency,
		now:      time.Now,
	}
}

// DenylistEvent is published when a card is added to the denylist.
type DenylistEvent struct {
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	TapID       string             `json:"tapId"`
	TerminalID  string             `json:"terminalId"`
	Reason      string             `json:"reason"`
	At          time.Time          `json:"at"`
}

// Process decides a single tap. The only error returned is
// domain.ErrMalformedTap, before any state is touched; every other failure
// is folded into a declined decision.
func (s *Service) Process(ctx context.Context, tap *domain.Tap) (*domain.Decision, error) {
	if err := tap.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()

	// Once started, a decision is not cancelled by the caller. Only the
	// gateway's own timeout bounds it.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "tap.process")
	defer span.End()

	ts := tap.Timestamp.UTC()
	if tap.Timestamp.IsZero() {
		ts = s.now().UTC()
	}

	rec := &domain.TapRecord{
		ID:          uuid.New().String(),
		Fingerprint: s.hasher.Fingerprint(tap.PAN),
		TerminalID:  tap.TerminalID,
		Cryptogram:  tap.Cryptogram,
		Timestamp:   ts,
		Direction:   tap.Direction,
	}

	d := &domain.Decision{
		TapID:       rec.ID,
		Fingerprint: rec.Fingerprint,
		TerminalID:  rec.TerminalID,
		Direction:   rec.Direction,
	}

	span.SetAttributes(
		attribute.String("tap.id", rec.ID),
		attribute.String("terminal.id", rec.TerminalID),
		attribute.String("tap.direction", string(rec.Direction)),
	)

	switch rec.Direction {
	case domain.DirectionEntry:
		s.processEntry(ctx, tap, rec, d)
	case domain.DirectionExit:
		s.processExit(ctx, tap, rec, d)
	}

	d.DecidedAt = s.now().UTC()
	d.ProcessMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("decision.status", string(d.Status)),
		attribute.String("decision.reason", d.Reason),
	)
	if d.Reason == domain.ReasonStorageFailure || d.Reason == domain.ReasonGatewayFailure {
		span.SetStatus(codes.Error, d.Reason)
	}

	attrs := []any{
		"tap_id", d.TapID,
		"terminal_id", d.TerminalID,
		"direction", d.Direction,
		"status", d.Status,
		"reason", d.Reason,
		"first_seen", d.FirstSeen,
		"duration_ms", d.ProcessMs,
	}
	if d.Amount != nil {
		attrs = append(attrs, "amount", d.Amount.StringFixed(2), "entry_tap_id", d.EntryTapID)
	}
	slog.Info("tap decided", attrs...)

	s.publish(ctx, domain.TopicTapDecided, d)

	return d, nil
}

func (s *Service) processEntry(ctx context.Context, tap *domain.Tap, rec *domain.TapRecord, d *domain.Decision) {
	pre, err := s.risk.PreCheck(ctx, rec.Fingerprint)
	if err != nil {
		s.storageFailure(ctx, rec, d, "risk pre-check", err)
		return
	}
	d.FirstSeen = pre.FirstSeen

	if pre.Blocked {
		s.finish(ctx, rec, d, false, domain.ReasonDenylisted)
		return
	}

	outcome, err := s.gateway.Verify(ctx, s.authRequest(tap, rec, decimal.Zero))
	if err != nil || !outcome.Approved() {
		reason := domain.ReasonAVRDeclined
		if err != nil {
			reason = domain.ReasonGatewayFailure
			s.logGatewayFailure(rec, "verify", err)
		}
		s.finish(ctx, rec, d, false, reason)
		s.recordDecline(ctx, rec, d)
		return
	}

	s.finish(ctx, rec, d, true, domain.ReasonVerified)
}

func (s *Service) processExit(ctx context.Context, tap *domain.Tap, rec *domain.TapRecord, d *domain.Decision) {
	pre, err := s.risk.PreCheck(ctx, rec.Fingerprint)
	if err != nil {
		s.storageFailure(ctx, rec, d, "risk pre-check", err)
		return
	}
	d.FirstSeen = pre.FirstSeen

	if pre.Blocked {
		s.finish(ctx, rec, d, false, domain.ReasonDenylisted)
		return
	}

	j, err := s.matcher.ClaimEntryFor(ctx, rec)
	if err != nil {
		s.storageFailure(ctx, rec, d, "claim entry", err)
		return
	}
	if j == nil {
		s.finish(ctx, rec, d, false, domain.ReasonExitOnly)
		return
	}

	j.Fare = s.fares.Fare(j.Entry, rec)
	req := s.authRequest(tap, rec, j.Fare)
	d.Amount = &j.Fare
	d.Currency = req.Currency
	d.EntryTapID = j.Entry.ID

	outcome, err := s.gateway.Authorize(ctx, req)
	if err != nil || !outcome.Approved() {
		reason := domain.ReasonAuthorizationDeclined
		if err != nil {
			reason = domain.ReasonGatewayFailure
			s.logGatewayFailure(rec, "authorize", err)
		}
		s.finish(ctx, rec, d, false, reason)
		s.recordDecline(ctx, rec, d)
		return
	}

	if !s.finish(ctx, rec, d, true, domain.ReasonAuthorized) {
		return
	}

	if err := s.matcher.Confirm(ctx, j); err != nil {
		slog.Error("failed to confirm journey match",
			"tap_id", rec.ID,
			"entry_tap_id", j.Entry.ID,
			"error", err,
		)
		d.Errors = append(d.Errors, err.Error())
	}
}

// finish persists rec with its final approved flag and sets the decision.
// An approval that cannot be persisted becomes a storage-failure decline.
// It reports whether the decision is still an approval.
func (s *Service) finish(ctx context.Context, rec *domain.TapRecord, d *domain.Decision, approved bool, reason string) bool {
	rec.Approved = approved

	if err := s.taps.AppendTap(ctx, rec); err != nil {
		slog.Error("failed to persist tap",
			"tap_id", rec.ID,
			"approved", approved,
			"error", err,
		)
		d.Errors = append(d.Errors, fmt.Sprintf("persist tap: %v", err))
		if approved {
			d.Status = domain.Declined(rec.Direction)
			d.Reason = domain.ReasonStorageFailure
			return false
		}
	}

	if approved {
		d.Status = domain.StatusApproved
	} else {
		d.Status = domain.Declined(rec.Direction)
	}
	d.Reason = reason
	return approved
}

// storageFailure declines after a store error. The record is still written
// if the store accepts it, and the card is not denylisted.
func (s *Service) storageFailure(ctx context.Context, rec *domain.TapRecord, d *domain.Decision, op string, err error) {
	slog.Error("storage failure, declining tap",
		"tap_id", rec.ID,
		"op", op,
		"error", err,
	)
	d.Errors = append(d.Errors, fmt.Sprintf("%s: %v", op, err))
	s.finish(ctx, rec, d, false, domain.ReasonStorageFailure)
}

// recordDecline denylists the card. A failed write is logged and reported
// on the decision but does not change it.
func (s *Service) recordDecline(ctx context.Context, rec *domain.TapRecord, d *domain.Decision) {
	if err := s.risk.RecordDecline(ctx, rec.Fingerprint); err != nil {
		slog.Error("failed to denylist card",
			"tap_id", rec.ID,
			"error", err,
		)
		d.Errors = append(d.Errors, err.Error())
		return
	}

	slog.Warn("card denylisted",
		"tap_id", rec.ID,
		"terminal_id", rec.TerminalID,
		"reason", d.Reason,
	)

	s.publish(ctx, domain.TopicCardDenylisted, DenylistEvent{
		Fingerprint: rec.Fingerprint,
		TapID:       rec.ID,
		TerminalID:  rec.TerminalID,
		Reason:      d.Reason,
		At:          s.now().UTC(),
	})
}

func (s *Service) authRequest(tap *domain.Tap, rec *domain.TapRecord, amount decimal.Decimal) *domain.AuthorizationRequest {
	return &domain.AuthorizationRequest{
		Fingerprint: rec.Fingerprint,
		TapID:       rec.ID,
		PAN:         tap.PAN,
		Expiry:      tap.Expiry,
		AID:         tap.AID,
		Cryptogram:  tap.Cryptogram,
		TerminalID:  rec.TerminalID,
		Amount:      amount,
		Currency:    s.currency,
	}
}

func (s *Service) logGatewayFailure(rec *domain.TapRecord, op string, err error) {
	slog.Error("gateway failure, declining tap",
		"tap_id", rec.ID,
		"op", op,
		"error", err,
	)
}

func (s *Service) publish(ctx context.Context, topic string, v any) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/telemetry"
)

// Signer signs attestation payloads.
type Signer interface {
	PublicKey() string
	SignJSON(v any) (string, error)
}

// VerifierSource resolves the read-only verifier of a rail.
type VerifierSource interface {
	Verifier(kind domain.RailKind) (rail.Verifier, error)
}

type Service struct {
	identity  domain.Party
	signer    Signer
	verifiers VerifierSource
	interval  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSleep replaces the wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// NewService builds an oracle whose party key is the signer's public key.
func NewService(name string, sig Signer, verifiers VerifierSource, interval time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		identity:  domain.Party{Key: sig.PublicKey(), Name: name},
		signer:    sig,
		verifiers: verifiers,
		interval:  interval,
		sleep:     sleepContext,
		now:       time.Now,
		logger:    logger.With("component", "oracle"),
		tracer:    telemetry.Tracer("oracle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity is the party obligations must designate to be verified by this oracle.
func (s *Service) Identity() domain.Party {
	return s.identity
}

// Verify polls the rail until the latest payment of obl reaches a final
// outcome and returns the signed result. It blocks until then or until ctx ends.
func (s *Service) Verify(ctx context.Context, obl domain.Obligation) (*SettlementResult, error) {
	ctx, span := s.tracer.Start(ctx, "oracle.Verify", trace.WithAttributes(attribute.String("linear_id", obl.LinearID)))
	defer span.End()

	if obl.SettlementMethod == nil {
		return s.failure(obl, "", "no settlement method")
	}
	method := *obl.SettlementMethod
	if !method.IsOffLedger() {
		return s.failure(obl, "", "settlement method is not an off-ledger payment")
	}
	if method.SettlementOracle == nil || !method.SettlementOracle.Is(s.identity) {
		return nil, customError.WrapUnauthorized(fmt.Sprintf("%s is not the settlement oracle of obligation %s", s.identity, obl.LinearID))
	}

	payment, ok := obl.LatestPayment()
	if !ok {
		return s.failure(obl, "", "no payments made")
	}
	if payment.Status.IsTerminal() {
		return nil, customError.WrapInvalidState(fmt.Sprintf("payment %s is already %s", payment.Reference, payment.Status))
	}
	span.SetAttributes(attribute.String("reference", payment.Reference), attribute.String("rail", string(method.Rail)))

	verifier, err := s.verifiers.Verifier(method.Rail)
	if err != nil {
		return nil, customError.WrapInvalidState(err.Error())
	}

	log := s.logger.With("linear_id", obl.LinearID, "reference", payment.Reference, "rail", method.Rail)
	for attempt := 1; ; attempt++ {
		v, err := verifier.Verify(ctx, obl, payment)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WarnContext(ctx, "verification poll failed", "attempt", attempt, "error", err)
			v = rail.Pending(err.Error())
		}
		log.DebugContext(ctx, "verification poll", "attempt", attempt, "outcome", v.Outcome, "reason", v.Reason)

		if v.Outcome.IsFinal() {
			result, err := s.conclude(obl, payment, v)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			log.InfoContext(ctx, "payment verified", "outcome", v.Outcome, "attempts", attempt)
			return result, nil
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			return nil, err
		}
	}
}

func (s *Service) conclude(obl domain.Obligation, payment domain.Payment, v rail.Verification) (*SettlementResult, error) {
	status := domain.PaymentStatusFailed
	if v.Outcome == rail.OutcomeSuccess {
		status = domain.PaymentStatusSettled
	}
	now := s.now().UTC()
	updated, err := obl.WithPaymentVerified(payment.Reference, status, v.Reason, s.identity, now)
	if err != nil {
		return nil, err
	}
	return s.sign(SettlementResult{
		LinearID:      obl.LinearID,
		Reference:     payment.Reference,
		Outcome:       v.Outcome,
		PaymentStatus: status,
		Reason:        v.Reason,
		Obligation:    &updated,
		SignedAt:      now,
	})
}

func (s *Service) failure(obl domain.Obligation, reference, reason string) (*SettlementResult, error) {
	return s.sign(SettlementResult{
		LinearID:   obl.LinearID,
		Reference:  reference,
		Outcome:    rail.OutcomeRejected,
		Reason:     reason,
		Obligation: &obl,
		SignedAt:   s.now().UTC(),
	})
}

func (s *Service) sign(r SettlementResult) (*SettlementResult, error) {
	r.Oracle = s.identity
	sig, err := s.signer.SignJSON(r.attestation())
	if err != nil {
		return nil, fmt.Errorf("sign settlement result: %w", err)
	}
	r.Signature = sig
	return &r, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

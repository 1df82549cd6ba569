package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/repository"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// maxApplyAttempts bounds the refetch-and-retry loop when applying an oracle result.
const maxApplyAttempts = 3

type ObligationService struct {
	obligations repository.ObligationRepository
	identities  repository.IdentityRepository
	checkpoints repository.CheckpointRepository
	now         func() time.Time
	logger      *slog.Logger
}

func NewObligationService(
	obligations repository.ObligationRepository,
	identities repository.IdentityRepository,
	checkpoints repository.CheckpointRepository,
	logger *slog.Logger,
) *ObligationService {
	return &ObligationService{
		obligations: obligations,
		identities:  identities,
		checkpoints: checkpoints,
		now:         time.Now,
		logger:      logger.With("component", "obligation_service"),
	}
}

// CreateObligation creates an obligation between the caller and a counterparty.
// With Anonymous set both parties are stored under fresh pseudonymous keys.
func (s *ObligationService) CreateObligation(ctx context.Context, caller domain.Party, request domain.CreateObligationRequest) (*domain.VersionedObligation, error) {
	me := wellKnown(caller)
	counterparty := wellKnown(request.Counterparty.Party())
	if me.Is(counterparty) {
		return nil, customError.WrapInvalidState("cannot create an obligation with yourself")
	}

	if request.Anonymous {
		var err error
		if me, err = s.pseudonym(ctx, me); err != nil {
			return nil, err
		}
		if counterparty, err = s.pseudonym(ctx, counterparty); err != nil {
			return nil, err
		}
	}

	obligor, obligee := me, counterparty
	if request.Role == domain.RoleObligee {
		obligor, obligee = counterparty, me
	}

	obl, err := domain.NewObligation(domain.NewAmount(request.Amount, request.Token), obligor, obligee, request.DueBy, s.now())
	if err != nil {
		return nil, err
	}

	created, err := s.obligations.Create(ctx, obl, obl.Participants())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "obligation created",
		"linear_id", created.Obligation.LinearID,
		"face_amount", created.Obligation.FaceAmount.String(),
		"anonymous", request.Anonymous,
	)
	return created, nil
}

func (s *ObligationService) pseudonym(ctx context.Context, p domain.Party) (domain.Party, error) {
	anon := domain.Party{Key: "anon-" + uuid.NewString()}
	if err := s.identities.Register(ctx, anon, p); err != nil {
		return domain.Party{}, err
	}
	return anon, nil
}

// GetObligation returns the current version.
func (s *ObligationService) GetObligation(ctx context.Context, linearID string) (*domain.VersionedObligation, error) {
	return s.obligations.GetCurrent(ctx, linearID)
}

// ListObligations returns every live obligation.
func (s *ObligationService) ListObligations(ctx context.Context) ([]domain.VersionedObligation, error) {
	return s.obligations.List(ctx)
}

// ListInDefault returns obligations past their due date that are not settled.
func (s *ObligationService) ListInDefault(ctx context.Context) ([]domain.VersionedObligation, error) {
	all, err := s.obligations.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []domain.VersionedObligation
	for _, v := range all {
		if v.Obligation.InDefault(now) {
			out = append(out, v)
		}
	}
	return out, nil
}

// UpdateSettlementMethod replaces the settlement method. Only the obligee may do this.
func (s *ObligationService) UpdateSettlementMethod(ctx context.Context, caller domain.Party, linearID string, method domain.SettlementMethod) (*domain.VersionedObligation, error) {
	current, resolved, err := s.load(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if !resolved.Obligee.Is(caller) {
		return nil, customError.WrapUnauthorized("only the obligee can set the settlement method")
	}
	if p, inFlight := current.Obligation.PaymentInFlight(); inFlight {
		return nil, customError.WrapPaymentInFlight(p.Reference)
	}

	next, err := current.Obligation.WithSettlementMethod(method)
	if err != nil {
		return nil, err
	}
	updated, err := s.obligations.ProposeNext(ctx, *current, next, next.Participants())
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "settlement method updated", "linear_id", linearID, "kind", method.Kind, "rail", method.Rail)
	return updated, nil
}

// Novate applies a single terms change. The caller must be a participant.
func (s *ObligationService) Novate(ctx context.Context, caller domain.Party, linearID string, command domain.NovationCommand) (*domain.VersionedObligation, error) {
	current, resolved, err := s.load(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if !resolved.IsParticipant(caller) {
		return nil, customError.WrapNotAParticipant(caller.String())
	}
	// the oracle verifies against the terms the payment was made under
	if p, inFlight := current.Obligation.PaymentInFlight(); inFlight {
		return nil, customError.WrapPaymentInFlight(p.Reference)
	}

	next, err := command.Apply(current.Obligation)
	if err != nil {
		return nil, err
	}

	signers := current.Obligation.Participants()
	if command.Kind == domain.NovateParty && command.NewParty != nil {
		signers = append(signers, *command.NewParty)
	}
	updated, err := s.obligations.ProposeNext(ctx, *current, next, signers)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "obligation novated", "linear_id", linearID, "kind", command.Kind, "version", updated.Version)
	return updated, nil
}

// Cancel removes an obligation that has neither settled payments nor a payment in flight.
func (s *ObligationService) Cancel(ctx context.Context, caller domain.Party, linearID string) error {
	current, resolved, err := s.load(ctx, linearID)
	if err != nil {
		return err
	}
	if !resolved.IsParticipant(caller) {
		return customError.WrapNotAParticipant(caller.String())
	}
	if !current.Obligation.AmountPaid().IsZero() {
		return customError.WrapInvalidState("an obligation with settled payments cannot be cancelled")
	}
	if p, inFlight := current.Obligation.PaymentInFlight(); inFlight {
		return customError.WrapPaymentInFlight(p.Reference)
	}

	if err := s.obligations.Consume(ctx, *current, current.Obligation.Participants()); err != nil {
		return err
	}
	if err := s.checkpoints.Delete(ctx, linearID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear checkpoint", "linear_id", linearID, "error", err)
	}
	s.logger.InfoContext(ctx, "obligation cancelled", "linear_id", linearID)
	return nil
}

// AttachPaymentReference records a payment that exists on the rail but was
// never recorded locally, and clears the settlement checkpoint.
func (s *ObligationService) AttachPaymentReference(ctx context.Context, caller domain.Party, linearID string, attached domain.AttachPaymentRequest) (*domain.VersionedObligation, error) {
	reference := attached.Reference
	current, resolved, err := s.load(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if !resolved.Obligor.Is(caller) {
		return nil, customError.WrapUnauthorized("only the obligor can attach a payment reference")
	}
	method := current.Obligation.SettlementMethod
	if method == nil || !method.IsOffLedger() {
		return nil, customError.WrapInvalidState("payment references can only be attached to off-ledger settlements")
	}
	if p, inFlight := current.Obligation.PaymentInFlight(); inFlight {
		return nil, customError.WrapPaymentInFlight(p.Reference)
	}

	payment := domain.Payment{
		Reference:  reference,
		Amount:     domain.NewAmount(attached.Amount, current.Obligation.FaceAmount.Token),
		Status:     domain.PaymentStatusSent,
		Rail:       method.Rail,
		RecordedAt: s.now().UTC(),
	}
	if attached.RailAmount != nil {
		if !attached.RailAmount.IsPositive() {
			return nil, customError.WrapInvalidState("rail amount must be positive")
		}
		railAmount := domain.NewAmount(*attached.RailAmount, method.Rail.SettlementToken(current.Obligation.FaceAmount.Token))
		payment.RailAmount = &railAmount
	}
	cp, err := s.checkpoints.Load(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if cp != nil && cp.Payment != nil && cp.Payment.Reference == reference {
		payment = *cp.Payment
		payment.Status = domain.PaymentStatusSent
	}
	if method.Rail == domain.RailXRP && payment.RailAmount == nil {
		return nil, customError.WrapInvalidState("attaching an XRP payment needs the delivered XRP amount")
	}

	next, err := current.Obligation.WithPayment(payment, current.Obligation.Obligor)
	if err != nil {
		return nil, err
	}
	if method.SelfAttested() {
		next, err = next.WithPaymentVerified(reference, domain.PaymentStatusSettled, "attached by obligor", current.Obligation.Obligor, s.now())
		if err != nil {
			return nil, err
		}
	}

	updated, err := s.obligations.ProposeNext(ctx, *current, next, current.Obligation.Participants())
	if err != nil {
		return nil, err
	}
	if err := s.checkpoints.Delete(ctx, linearID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear checkpoint", "linear_id", linearID, "error", err)
	}
	s.logger.InfoContext(ctx, "payment reference attached", "linear_id", linearID, "reference", reference)
	return updated, nil
}

// ApplySettlementResult commits an oracle's verdict. Applying the same result twice is a no-op.
func (s *ObligationService) ApplySettlementResult(ctx context.Context, result oracle.SettlementResult) (*domain.VersionedObligation, error) {
	if err := oracle.VerifySignature(result); err != nil {
		return nil, err
	}
	if result.Reference == "" || !result.PaymentStatus.IsTerminal() {
		return nil, customError.WrapInvalidState(fmt.Sprintf("settlement result has nothing to apply: %s", result.Reason))
	}

	var lastErr error
	for attempt := 1; attempt <= maxApplyAttempts; attempt++ {
		updated, err := s.applyOnce(ctx, result)
		if err == nil {
			if err := s.checkpoints.Delete(ctx, result.LinearID); err != nil {
				s.logger.WarnContext(ctx, "failed to clear checkpoint", "linear_id", result.LinearID, "error", err)
			}
			return updated, nil
		}
		if !errors.Is(err, customError.ErrConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.DebugContext(ctx, "settlement result conflicted, refetching", "linear_id", result.LinearID, "attempt", attempt)
	}
	return nil, lastErr
}

func (s *ObligationService) applyOnce(ctx context.Context, result oracle.SettlementResult) (*domain.VersionedObligation, error) {
	current, err := s.obligations.GetCurrent(ctx, result.LinearID)
	if err != nil {
		return nil, err
	}
	obl := current.Obligation
	if obl.SettlementMethod == nil || obl.SettlementMethod.SettlementOracle == nil || !obl.SettlementMethod.SettlementOracle.Is(result.Oracle) {
		return nil, customError.WrapUnauthorized(fmt.Sprintf("%s is not the settlement oracle of obligation %s", result.Oracle, obl.LinearID))
	}

	payment, ok := obl.FindPayment(result.Reference)
	if !ok {
		return nil, customError.WrapReferenceNotFound(result.Reference)
	}
	if payment.Status.IsTerminal() {
		if payment.Status == result.PaymentStatus {
			return current, nil
		}
		return nil, customError.WrapInvalidState(fmt.Sprintf("payment %s is already %s", payment.Reference, payment.Status))
	}

	next, err := obl.WithPaymentVerified(result.Reference, result.PaymentStatus, result.Reason, result.Oracle, result.SignedAt)
	if err != nil {
		return nil, err
	}
	signers := append(obl.Participants(), result.Oracle)
	updated, err := s.obligations.ProposeNext(ctx, *current, next, signers)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "payment status finalised",
		"linear_id", obl.LinearID,
		"reference", result.Reference,
		"status", result.PaymentStatus,
		"settlement_status", next.SettlementStatus(),
	)
	return updated, nil
}

// load fetches the current version and its identity-resolved view for authorization.
func (s *ObligationService) load(ctx context.Context, linearID string) (*domain.VersionedObligation, domain.Obligation, error) {
	current, err := s.obligations.GetCurrent(ctx, linearID)
	if err != nil {
		return nil, domain.Obligation{}, err
	}
	resolved, err := current.Obligation.WithWellKnownIdentities(ctx, s.identities)
	if err != nil {
		return nil, domain.Obligation{}, err
	}
	return current, resolved, nil
}

// wellKnown names a party by its key when no name was given, so it is never
// mistaken for a pseudonym.
func wellKnown(p domain.Party) domain.Party {
	if p.Name == "" {
		p.Name = p.Key
	}
	return p
}

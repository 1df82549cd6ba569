package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/rail"
	"github.com/segyhp/settlement-engine/internal/repository"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/telemetry"
)

// AdapterSource resolves the payer side of a rail.
type AdapterSource interface {
	Adapter(kind domain.RailKind) (rail.Adapter, error)
}

// ResultApplier commits a signed oracle result.
type ResultApplier interface {
	ApplySettlementResult(ctx context.Context, result oracle.SettlementResult) (*domain.VersionedObligation, error)
}

type SettleOptions struct {
	// ManualReference is the payer's reference for the manual rail, e.g. a cheque number.
	ManualReference string
}

// SettlementReceipt describes the outcome of one settlement run.
type SettlementReceipt struct {
	Obligation domain.VersionedObligation `json:"obligation"`
	Payment    domain.Payment             `json:"payment"`
	// Result is nil for self-attested settlements.
	Result *oracle.SettlementResult `json:"result,omitempty"`
}

type OrchestratorConfig struct {
	// PreflightOverpaymentCheck rejects overpaying amounts before any rail call.
	// When off, the check only runs when the payment is recorded.
	PreflightOverpaymentCheck bool
}

// SettlementOrchestrator drives an off-ledger payment through
// setup, balance check, payment, recording and verification. Progress is
// checkpointed so a restarted run reuses its reservation and never pays twice.
type SettlementOrchestrator struct {
	obligations repository.ObligationRepository
	checkpoints repository.CheckpointRepository
	identities  domain.IdentityResolver
	rails       AdapterSource
	oracle      oracle.Client
	results     ResultApplier
	cfg         OrchestratorConfig
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewSettlementOrchestrator(
	obligations repository.ObligationRepository,
	checkpoints repository.CheckpointRepository,
	identities domain.IdentityResolver,
	rails AdapterSource,
	oracleClient oracle.Client,
	results ResultApplier,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *SettlementOrchestrator {
	return &SettlementOrchestrator{
		obligations: obligations,
		checkpoints: checkpoints,
		identities:  identities,
		rails:       rails,
		oracle:      oracleClient,
		results:     results,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger.With("component", "settlement_orchestrator"),
		tracer:      telemetry.Tracer("orchestrator"),
	}
}

// run carries the state of one settlement attempt between steps.
type run struct {
	current  *domain.VersionedObligation
	resolved domain.Obligation
	method   domain.SettlementMethod
	amount   domain.Amount
	adapter  rail.Adapter
	cp       domain.Checkpoint
	log      *slog.Logger
}

// Settle pays amount towards the obligation on behalf of the obligor. When the
// payment fails verification the receipt is returned together with the error.
func (o *SettlementOrchestrator) Settle(ctx context.Context, caller domain.Party, linearID string, amount decimal.Decimal, opts SettleOptions) (*SettlementReceipt, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Settle", trace.WithAttributes(attribute.String("linear_id", linearID)))
	defer span.End()

	receipt, err := o.settle(ctx, caller, linearID, amount, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if customError.IsReconciliation(err) {
			o.logger.ErrorContext(ctx, "settlement needs manual reconciliation",
				"linear_id", linearID,
				"reference", customError.ReferenceOf(err),
				"error", err,
			)
		}
	}
	return receipt, err
}

func (o *SettlementOrchestrator) settle(ctx context.Context, caller domain.Party, linearID string, amount decimal.Decimal, opts SettleOptions) (*SettlementReceipt, error) {
	r, err := o.initialise(ctx, caller, linearID, amount)
	if err != nil {
		return nil, err
	}

	existing, err := o.checkpoints.Load(ctx, linearID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return o.resume(ctx, r, *existing, opts)
	}
	if p, inFlight := r.current.Obligation.PaymentInFlight(); inFlight {
		return nil, customError.WrapPaymentInFlight(p.Reference)
	}
	if err := o.preflight(r); err != nil {
		return nil, err
	}

	r.cp = domain.Checkpoint{LinearID: linearID, State: domain.StateSetup, Amount: r.amount}
	return o.fromSetup(ctx, r, opts)
}

// initialise resolves identities and checks the caller is the obligor.
func (o *SettlementOrchestrator) initialise(ctx context.Context, caller domain.Party, linearID string, amount decimal.Decimal) (*run, error) {
	current, err := o.obligations.GetCurrent(ctx, linearID)
	if err != nil {
		return nil, err
	}
	resolved, err := current.Obligation.WithWellKnownIdentities(ctx, o.identities)
	if err != nil {
		return nil, err
	}
	if !resolved.Obligor.Is(caller) {
		return nil, customError.WrapUnauthorized("only the obligor can settle an obligation")
	}

	method := resolved.SettlementMethod
	if method == nil {
		return nil, customError.WrapInvalidState("no settlement method agreed")
	}
	if !method.IsOffLedger() {
		return nil, customError.WrapInvalidState("on-ledger settlement is not supported by this node")
	}
	if !amount.IsPositive() {
		return nil, customError.WrapInvalidState("settlement amount must be positive")
	}

	adapter, err := o.rails.Adapter(method.Rail)
	if err != nil {
		return nil, customError.WrapInvalidState(err.Error())
	}

	return &run{
		current:  current,
		resolved: resolved,
		method:   *method,
		amount:   domain.NewAmount(amount, current.Obligation.FaceAmount.Token),
		adapter:  adapter,
		log:      o.logger.With("linear_id", linearID, "rail", method.Rail),
	}, nil
}

func (o *SettlementOrchestrator) preflight(r *run) error {
	if !o.cfg.PreflightOverpaymentCheck {
		return nil
	}
	committed := r.current.Obligation.AmountCommitted()
	total, _ := committed.Add(r.amount)
	if total.Cmp(r.current.Obligation.FaceAmount) > 0 {
		return customError.WrapOverpayment(committed.String(), r.amount.String(), r.current.Obligation.FaceAmount.String())
	}
	return nil
}

// resume continues from a checkpoint left by an earlier run.
func (o *SettlementOrchestrator) resume(ctx context.Context, r *run, cp domain.Checkpoint, opts SettleOptions) (*SettlementReceipt, error) {
	r.log.InfoContext(ctx, "resuming settlement", "state", cp.State, "reference", cp.ExternalReference())

	switch cp.State {
	case domain.StateVerifying:
		p, inFlight := r.current.Obligation.PaymentInFlight()
		if !inFlight {
			return nil, customError.WrapInvalidState("checkpoint expects a payment awaiting verification but none is recorded")
		}
		r.cp = cp
		return o.verify(ctx, r, *r.current, p)
	case domain.StatePaying, domain.StateRecording:
		return nil, customError.WrapUnrecordedPayment(cp.ExternalReference(), errors.New("an earlier run stopped after paying"))
	}

	if cp.PaymentAttempted {
		return nil, customError.WrapUnrecordedPayment(cp.ExternalReference(), errors.New("an earlier run stopped after paying"))
	}
	if !cp.Amount.Equal(r.amount) {
		return nil, customError.WrapInvalidState(fmt.Sprintf("a settlement of %s is already in progress", cp.Amount))
	}
	if err := o.preflight(r); err != nil {
		return nil, err
	}
	r.cp = cp
	return o.fromSetup(ctx, r, opts)
}

func (o *SettlementOrchestrator) fromSetup(ctx context.Context, r *run, opts SettleOptions) (*SettlementReceipt, error) {
	in := rail.Instruction{Obligation: r.resolved, Amount: r.amount, Reference: opts.ManualReference}

	// SETUP
	if r.cp.Reservation == nil {
		res, err := r.adapter.Setup(ctx, in)
		if err != nil {
			var be *customError.BusinessError
			if errors.As(err, &be) {
				return nil, err
			}
			return nil, customError.WrapSetupFailed(err)
		}
		r.cp.Reservation = &res
		if err := o.checkpoint(ctx, r, domain.StateSetup); err != nil {
			return nil, err
		}
	} else {
		r.log.InfoContext(ctx, "reusing reservation", "reference", r.cp.ExternalReference(), "sequence", r.cp.Reservation.Sequence)
	}
	res := *r.cp.Reservation

	// CHECKING_BALANCE
	r.cp.State = domain.StateCheckingBalance
	if err := r.adapter.CheckBalance(ctx, in, res); err != nil {
		o.clear(ctx, r)
		return nil, err
	}

	// PAYING
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.cp.PaymentAttempted = true
	if err := o.checkpoint(ctx, r, domain.StatePaying); err != nil {
		return nil, err
	}
	// The payment is irrevocable from here on, so caller cancellation is ignored.
	ctx = context.WithoutCancel(ctx)

	payment, err := r.adapter.MakePayment(ctx, in, res)
	if err != nil {
		return nil, o.paymentFailed(ctx, r, err)
	}
	if payment.RecordedAt.IsZero() {
		payment.RecordedAt = o.now().UTC()
	}
	r.cp.Payment = &payment
	if err := o.checkpoint(ctx, r, domain.StateRecording); err != nil {
		r.log.WarnContext(ctx, "failed to checkpoint payment", "reference", payment.Reference, "error", err)
	}
	r.log.InfoContext(ctx, "payment submitted", "reference", payment.Reference, "amount", payment.Amount.String())

	// RECORDING
	committed, err := o.record(ctx, r, payment)
	if err != nil {
		return nil, err
	}

	if r.method.SelfAttested() {
		o.clear(ctx, r)
		settled, _ := committed.Obligation.FindPayment(payment.Reference)
		r.log.InfoContext(ctx, "self-attested payment recorded", "reference", payment.Reference, "settlement_status", committed.Obligation.SettlementStatus())
		return &SettlementReceipt{Obligation: *committed, Payment: settled}, nil
	}

	// VERIFYING
	if err := o.checkpoint(ctx, r, domain.StateVerifying); err != nil {
		r.log.WarnContext(ctx, "failed to checkpoint verification", "reference", payment.Reference, "error", err)
	}
	recorded, _ := committed.Obligation.FindPayment(payment.Reference)
	return o.verify(ctx, r, *committed, recorded)
}

func (o *SettlementOrchestrator) paymentFailed(ctx context.Context, r *run, err error) error {
	switch {
	case errors.Is(err, customError.ErrSequenceConflict),
		errors.Is(err, customError.ErrInsufficientBalance),
		errors.Is(err, customError.ErrSelfPayment):
		r.log.WarnContext(ctx, "payment refused by rail", "error", err)
		o.clear(ctx, r)
		return err
	case errors.Is(err, customError.ErrNotSubmitted):
		r.log.WarnContext(ctx, "payment failed before submission", "error", err)
		o.clear(ctx, r)
		return err
	case errors.Is(err, customError.ErrAlreadySubmitted):
		return err
	default:
		return customError.WrapUnrecordedPayment(r.cp.ExternalReference(), err)
	}
}

func (o *SettlementOrchestrator) record(ctx context.Context, r *run, payment domain.Payment) (*domain.VersionedObligation, error) {
	author := r.current.Obligation.Obligor
	next, err := r.current.Obligation.WithPayment(payment, author)
	if err != nil {
		r.log.ErrorContext(ctx, "payment made but rejected at recording", "reference", payment.Reference, "error", err)
		o.clear(ctx, r)
		var be *customError.BusinessError
		if errors.As(err, &be) {
			withRef := *be
			withRef.Reference = payment.Reference
			return nil, &withRef
		}
		return nil, err
	}
	if r.method.SelfAttested() {
		next, err = next.WithPaymentVerified(payment.Reference, domain.PaymentStatusSettled, "self-attested by obligor", author, o.now())
		if err != nil {
			return nil, err
		}
	}

	signers := []domain.Party{r.current.Obligation.Obligor}
	if r.adapter.RequiresObligeeSignature() {
		signers = append(signers, r.current.Obligation.Obligee)
	}
	committed, err := o.obligations.ProposeNext(ctx, *r.current, next, signers)
	if err != nil {
		return nil, customError.WrapUnrecordedPayment(payment.Reference, err)
	}
	r.current = committed
	return committed, nil
}

// verify asks the oracle for a verdict and commits it. The checkpoint stays
// at VERIFYING when the oracle cannot be reached so a later run resumes here.
func (o *SettlementOrchestrator) verify(ctx context.Context, r *run, current domain.VersionedObligation, payment domain.Payment) (*SettlementReceipt, error) {
	receipt := &SettlementReceipt{Obligation: current, Payment: payment}
	r.log.InfoContext(ctx, "requesting verification", "reference", payment.Reference, "oracle", r.method.SettlementOracle)

	result, err := o.oracle.RequestVerification(ctx, current.Obligation)
	if err != nil {
		return receipt, err
	}
	applied, err := o.results.ApplySettlementResult(ctx, *result)
	if err != nil {
		return receipt, err
	}

	receipt.Obligation = *applied
	receipt.Result = result
	if p, ok := applied.Obligation.FindPayment(payment.Reference); ok {
		receipt.Payment = p
	}
	r.log.InfoContext(ctx, "settlement finished",
		"reference", payment.Reference,
		"outcome", result.Outcome,
		"settlement_status", applied.Obligation.SettlementStatus(),
	)
	return receipt, result.Err()
}

// ResumeVerification re-requests verification for a payment recorded but not yet verified.
func (o *SettlementOrchestrator) ResumeVerification(ctx context.Context, linearID string) (*SettlementReceipt, error) {
	current, err := o.obligations.GetCurrent(ctx, linearID)
	if err != nil {
		return nil, err
	}
	method := current.Obligation.SettlementMethod
	if method == nil || method.SelfAttested() {
		return nil, customError.WrapInvalidState("obligation has no settlement oracle")
	}
	p, inFlight := current.Obligation.PaymentInFlight()
	if !inFlight {
		return nil, customError.WrapInvalidState("no payment is awaiting verification")
	}
	r := &run{
		current: current,
		method:  *method,
		log:     o.logger.With("linear_id", linearID, "rail", method.Rail),
	}
	return o.verify(ctx, r, *current, p)
}

// ResumeAll resumes verification of every obligation with a payment in flight
// and returns how many reached a final status.
func (o *SettlementOrchestrator) ResumeAll(ctx context.Context) (int, error) {
	awaiting, err := o.obligations.ListAwaitingVerification(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, v := range awaiting {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		m := v.Obligation.SettlementMethod
		if m == nil || m.SelfAttested() {
			continue
		}
		_, err := o.ResumeVerification(ctx, v.Obligation.LinearID)
		switch {
		case err == nil, customError.CategoryOf(err) == customError.CategoryVerification:
			done++
		default:
			o.logger.WarnContext(ctx, "verification resume failed", "linear_id", v.Obligation.LinearID, "error", err)
		}
	}
	return done, nil
}

func (o *SettlementOrchestrator) checkpoint(ctx context.Context, r *run, state domain.OrchestrationState) error {
	r.cp.State = state
	r.cp.UpdatedAt = o.now().UTC()
	if err := o.checkpoints.Save(ctx, r.cp); err != nil {
		return err
	}
	r.log.DebugContext(ctx, "checkpoint saved", "state", state, "reference", r.cp.ExternalReference())
	return nil
}

func (o *SettlementOrchestrator) clear(ctx context.Context, r *run) {
	if err := o.checkpoints.Delete(ctx, r.cp.LinearID); err != nil {
		r.log.WarnContext(ctx, "failed to clear checkpoint", "error", err)
	}
}

package domain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// SettlementStatus is derived from the settled amount against the face amount.
type SettlementStatus string

const (
	Unsettled        SettlementStatus = "UNSETTLED"
	PartiallySettled SettlementStatus = "PARTIALLY_SETTLED"
	Settled          SettlementStatus = "SETTLED"
)

// Obligation is a debt owed by Obligor to Obligee. Mutators never change the
// receiver; they return a new version or an error.
type Obligation struct {
	LinearID         string            `json:"linear_id"`
	FaceAmount       Amount            `json:"face_amount"`
	Obligor          Party             `json:"obligor"`
	Obligee          Party             `json:"obligee"`
	DueBy            *time.Time        `json:"due_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	SettlementMethod *SettlementMethod `json:"settlement_method,omitempty"`
	PaymentEvents    []PaymentEvent    `json:"payment_events"`
}

// NewObligation creates an unsettled obligation with a fresh linear ID.
func NewObligation(face Amount, obligor, obligee Party, dueBy *time.Time, now time.Time) (Obligation, error) {
	if !face.IsPositive() {
		return Obligation{}, customError.WrapInvalidState("face amount must be positive")
	}
	if face.Token == "" {
		return Obligation{}, customError.WrapInvalidState("face amount needs a token")
	}
	if obligor.Is(obligee) {
		return Obligation{}, customError.WrapInvalidState("obligor and obligee must differ")
	}
	return Obligation{
		LinearID:      uuid.NewString(),
		FaceAmount:    face,
		Obligor:       obligor,
		Obligee:       obligee,
		DueBy:         copyTime(dueBy),
		CreatedAt:     now.UTC(),
		PaymentEvents: []PaymentEvent{},
	}, nil
}

// Payments returns the folded payment history in insertion order.
func (o Obligation) Payments() []Payment {
	return FoldPayments(o.PaymentEvents)
}

// AmountPaid sums the SETTLED payments.
func (o Obligation) AmountPaid() Amount {
	return o.sumWhere(func(p Payment) bool { return p.Status == PaymentStatusSettled })
}

// AmountCommitted sums payments that are settled or still in flight.
func (o Obligation) AmountCommitted() Amount {
	return o.sumWhere(func(p Payment) bool { return p.Status != PaymentStatusFailed })
}

// Outstanding is the face amount minus what has settled.
func (o Obligation) Outstanding() Amount {
	out, _ := o.FaceAmount.Sub(o.AmountPaid())
	return out
}

func (o Obligation) sumWhere(keep func(Payment) bool) Amount {
	total := ZeroAmount(o.FaceAmount.Token)
	for _, p := range o.Payments() {
		if !keep(p) || p.Amount.Token != total.Token {
			continue
		}
		total.Quantity = total.Quantity.Add(p.Amount.Quantity)
	}
	return total
}

// SettlementStatus compares the settled amount against the face amount.
func (o Obligation) SettlementStatus() SettlementStatus {
	paid := o.AmountPaid()
	switch {
	case paid.IsZero():
		return Unsettled
	case paid.Cmp(o.FaceAmount) >= 0:
		return Settled
	default:
		return PartiallySettled
	}
}

// InDefault reports whether the due date has passed without full settlement.
func (o Obligation) InDefault(now time.Time) bool {
	return o.DueBy != nil && now.After(*o.DueBy) && o.SettlementStatus() != Settled
}

// LatestPayment returns the most recently recorded payment.
func (o Obligation) LatestPayment() (Payment, bool) {
	payments := o.Payments()
	if len(payments) == 0 {
		return Payment{}, false
	}
	return payments[len(payments)-1], true
}

// PaymentInFlight returns the payment still awaiting a terminal status, if any.
func (o Obligation) PaymentInFlight() (Payment, bool) {
	for _, p := range o.Payments() {
		if p.Status == PaymentStatusSent {
			return p, true
		}
	}
	return Payment{}, false
}

// FindPayment looks a payment up by its rail reference.
func (o Obligation) FindPayment(reference string) (Payment, bool) {
	for _, p := range o.Payments() {
		if p.Reference == reference {
			return p, true
		}
	}
	return Payment{}, false
}

// Participants lists obligor and obligee.
func (o Obligation) Participants() []Party {
	return []Party{o.Obligor, o.Obligee}
}

// IsParticipant reports whether p is the obligor or the obligee.
func (o Obligation) IsParticipant(p Party) bool {
	return o.Obligor.Is(p) || o.Obligee.Is(p)
}

// WithPayment appends a payment attempt. The overpayment check counts settled
// and in-flight payments so two unverified payments can never jointly overpay.
func (o Obligation) WithPayment(p Payment, author Party) (Obligation, error) {
	if p.Reference == "" {
		return Obligation{}, customError.WrapInvalidState("payment needs a rail reference")
	}
	if p.Amount.Token != o.FaceAmount.Token {
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("payment token %s does not match face token %s", p.Amount.Token, o.FaceAmount.Token))
	}
	if !p.Amount.IsPositive() {
		return Obligation{}, customError.WrapInvalidState("payment amount must be positive")
	}
	if _, exists := o.FindPayment(p.Reference); exists {
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("payment %s is already recorded", p.Reference))
	}
	committed := o.AmountCommitted()
	total, _ := committed.Add(p.Amount)
	if total.Cmp(o.FaceAmount) > 0 {
		return Obligation{}, customError.WrapOverpayment(committed.String(), p.Amount.String(), o.FaceAmount.String())
	}
	next := o.Clone()
	next.PaymentEvents = append(next.PaymentEvents, RecordedEvent(p, author))
	return next, nil
}

// WithPaymentVerified applies the terminal outcome for reference exactly once.
func (o Obligation) WithPaymentVerified(reference string, outcome PaymentStatus, reason string, author Party, at time.Time) (Obligation, error) {
	if !outcome.IsTerminal() {
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("%s is not a terminal payment status", outcome))
	}
	p, ok := o.FindPayment(reference)
	if !ok {
		return Obligation{}, customError.WrapReferenceNotFound(reference)
	}
	if p.Status.IsTerminal() {
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("payment %s is already %s", reference, p.Status))
	}
	if outcome == PaymentStatusSettled {
		paid := o.AmountPaid()
		total, _ := paid.Add(p.Amount)
		if total.Cmp(o.FaceAmount) > 0 {
			return Obligation{}, customError.WrapOverpayment(paid.String(), p.Amount.String(), o.FaceAmount.String())
		}
	}
	next := o.Clone()
	next.PaymentEvents = append(next.PaymentEvents, VerifiedEvent(reference, outcome, reason, author, at.UTC()))
	return next, nil
}

// WithSettlementMethod replaces the settlement method while nothing has settled.
func (o Obligation) WithSettlementMethod(m SettlementMethod) (Obligation, error) {
	if o.SettlementStatus() != Unsettled {
		return Obligation{}, customError.WrapInvalidState("settlement method can only change while the obligation is unsettled")
	}
	if err := m.Validate(o); err != nil {
		return Obligation{}, err
	}
	next := o.Clone()
	method := m.clone()
	next.SettlementMethod = &method
	return next, nil
}

// WithNewFaceValueToken re-denominates the obligation. Not allowed once any
// payment attempt exists.
func (o Obligation) WithNewFaceValueToken(newAmount Amount) (Obligation, error) {
	if len(o.PaymentEvents) > 0 {
		return Obligation{}, customError.WrapInvalidState("token cannot change after payments were made")
	}
	if !newAmount.IsPositive() || newAmount.Token == "" {
		return Obligation{}, customError.WrapInvalidState("face amount must be a positive token amount")
	}
	next := o.Clone()
	next.FaceAmount = newAmount
	if next.SettlementMethod != nil && next.SettlementMethod.Kind == MethodOnLedger &&
		!slices.Contains(next.SettlementMethod.AcceptableTokens, newAmount.Token) {
		next.SettlementMethod = nil
	}
	return next, nil
}

// WithNewFaceValueQuantity changes the quantity; it may not drop below what has settled.
func (o Obligation) WithNewFaceValueQuantity(newAmount Amount) (Obligation, error) {
	if newAmount.Token != o.FaceAmount.Token {
		return Obligation{}, customError.WrapInvalidState("use a token novation to change the token")
	}
	if !newAmount.IsPositive() {
		return Obligation{}, customError.WrapInvalidState("face amount must be positive")
	}
	if newAmount.Cmp(o.AmountPaid()) < 0 {
		return Obligation{}, customError.WrapInvalidState(fmt.Sprintf("face amount %s is below the amount already paid %s", newAmount, o.AmountPaid()))
	}
	next := o.Clone()
	next.FaceAmount = newAmount
	return next, nil
}

// WithDueDate changes or clears the due date.
func (o Obligation) WithDueDate(dueBy *time.Time) (Obligation, error) {
	if dueBy == nil && o.SettlementMethod != nil && o.SettlementMethod.Rail == RailSWIFT {
		return Obligation{}, customError.WrapInvalidState("SWIFT settlement requires a due date")
	}
	next := o.Clone()
	next.DueBy = copyTime(dueBy)
	return next, nil
}

// WithNewCounterparty swaps old for newParty.
func (o Obligation) WithNewCounterparty(old, newParty Party) (Obligation, error) {
	next := o.Clone()
	switch {
	case o.Obligor.Is(old):
		if o.Obligee.Is(newParty) {
			return Obligation{}, customError.WrapInvalidState("obligor and obligee must differ")
		}
		next.Obligor = newParty
	case o.Obligee.Is(old):
		if o.Obligor.Is(newParty) {
			return Obligation{}, customError.WrapInvalidState("obligor and obligee must differ")
		}
		next.Obligee = newParty
	default:
		return Obligation{}, customError.WrapNotAParticipant(old.String())
	}
	return next, nil
}

// WithWellKnownIdentities resolves pseudonymous parties. Authorization checks
// must run against the result, never against raw keys.
func (o Obligation) WithWellKnownIdentities(ctx context.Context, resolver IdentityResolver) (Obligation, error) {
	obligor, err := ResolveParty(ctx, resolver, o.Obligor)
	if err != nil {
		return Obligation{}, fmt.Errorf("resolve obligor: %w", err)
	}
	obligee, err := ResolveParty(ctx, resolver, o.Obligee)
	if err != nil {
		return Obligation{}, fmt.Errorf("resolve obligee: %w", err)
	}
	next := o.Clone()
	next.Obligor = obligor
	next.Obligee = obligee
	return next, nil
}

// Clone deep-copies the obligation.
func (o Obligation) Clone() Obligation {
	c := o
	c.DueBy = copyTime(o.DueBy)
	if o.SettlementMethod != nil {
		m := o.SettlementMethod.clone()
		c.SettlementMethod = &m
	}
	c.PaymentEvents = slices.Clone(o.PaymentEvents)
	if c.PaymentEvents == nil {
		c.PaymentEvents = []PaymentEvent{}
	}
	return c
}

// VersionedObligation pairs an obligation with its store version.
type VersionedObligation struct {
	Obligation Obligation `json:"obligation"`
	Version    int64      `json:"version"`
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

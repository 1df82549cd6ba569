package domain

import (
	"time"
)

// PaymentStatus is derived by folding the payment event log.
type PaymentStatus string

const (
	PaymentStatusSent    PaymentStatus = "SENT"
	PaymentStatusSettled PaymentStatus = "SETTLED"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further verification can change the status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSettled || s == PaymentStatusFailed
}

// Payment is one settlement attempt as seen after folding its events.
type Payment struct {
	Reference string        `json:"reference"`
	Amount    Amount        `json:"amount"`
	Status    PaymentStatus `json:"status"`
	Rail      RailKind      `json:"rail,omitempty"`
	// RailAmount is what was actually sent on the rail, in rail units (e.g. XRP after FX).
	RailAmount *Amount `json:"rail_amount,omitempty"`
	// LinkingReference ties the rail transaction back to the obligation (XRP invoice id, SWIFT remittance info).
	LinkingReference string `json:"linking_reference,omitempty"`
	// LastLedgerSequence is the XRP ledger index after which the payment can no longer validate.
	LastLedgerSequence uint32     `json:"last_ledger_sequence,omitempty"`
	RecordedAt         time.Time  `json:"recorded_at"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
}

// PaymentEventType distinguishes payer-authored from verifier-authored events.
type PaymentEventType string

const (
	PaymentRecorded PaymentEventType = "payment_recorded"
	PaymentVerified PaymentEventType = "payment_verified"
)

// PaymentEvent is an immutable entry in an obligation's payment log.
// PaymentRecorded events carry the payment details; PaymentVerified events carry the outcome.
type PaymentEvent struct {
	Type      PaymentEventType `json:"type"`
	Reference string           `json:"reference"`
	Author    Party            `json:"author"`
	At        time.Time        `json:"at"`

	Amount             *Amount  `json:"amount,omitempty"`
	Rail               RailKind `json:"rail,omitempty"`
	RailAmount         *Amount  `json:"rail_amount,omitempty"`
	LinkingReference   string   `json:"linking_reference,omitempty"`
	LastLedgerSequence uint32   `json:"last_ledger_sequence,omitempty"`

	Outcome PaymentStatus `json:"outcome,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}

// RecordedEvent builds the payer's event for p.
func RecordedEvent(p Payment, author Party) PaymentEvent {
	amount := p.Amount
	return PaymentEvent{
		Type:               PaymentRecorded,
		Reference:          p.Reference,
		Author:             author,
		At:                 p.RecordedAt,
		Amount:             &amount,
		Rail:               p.Rail,
		RailAmount:         p.RailAmount,
		LinkingReference:   p.LinkingReference,
		LastLedgerSequence: p.LastLedgerSequence,
	}
}

// VerifiedEvent builds the verifier's event for reference.
func VerifiedEvent(reference string, outcome PaymentStatus, reason string, author Party, at time.Time) PaymentEvent {
	return PaymentEvent{
		Type:      PaymentVerified,
		Reference: reference,
		Author:    author,
		At:        at,
		Outcome:   outcome,
		Reason:    reason,
	}
}

// FoldPayments replays events into payments in recording order.
// Verification events for unknown or already terminal payments are ignored.
func FoldPayments(events []PaymentEvent) []Payment {
	payments := make([]Payment, 0, len(events))
	index := make(map[string]int, len(events))
	for _, e := range events {
		switch e.Type {
		case PaymentRecorded:
			if e.Amount == nil {
				continue
			}
			p := Payment{
				Reference:          e.Reference,
				Amount:             *e.Amount,
				Status:             PaymentStatusSent,
				Rail:               e.Rail,
				RailAmount:         e.RailAmount,
				LinkingReference:   e.LinkingReference,
				LastLedgerSequence: e.LastLedgerSequence,
				RecordedAt:         e.At,
			}
			index[e.Reference] = len(payments)
			payments = append(payments, p)
		case PaymentVerified:
			i, ok := index[e.Reference]
			if !ok || payments[i].Status.IsTerminal() {
				continue
			}
			at := e.At
			payments[i].Status = e.Outcome
			payments[i].VerifiedAt = &at
			if e.Outcome == PaymentStatusFailed {
				payments[i].FailureReason = e.Reason
			}
		}
	}
	return payments
}

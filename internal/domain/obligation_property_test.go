package domain

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// runPayments applies a sequence of payment attempts in cents, settling or
// failing each accepted one according to outcomes.
func runPayments(face int64, cents []int64, outcomes []bool) (Obligation, error) {
	obl, err := NewObligation(NewAmount(decimal.New(face, -2), "USD"), partyA, partyB, nil, now)
	if err != nil {
		return Obligation{}, err
	}
	for i, c := range cents {
		ref := fmt.Sprintf("R%d", i)
		next, err := obl.WithPayment(Payment{Reference: ref, Amount: NewAmount(decimal.New(c, -2), "USD"), RecordedAt: now}, partyA)
		if err != nil {
			continue
		}
		status := PaymentStatusFailed
		if i < len(outcomes) && outcomes[i] {
			status = PaymentStatusSettled
		}
		next, err = next.WithPaymentVerified(ref, status, "", oracle, now)
		if err != nil {
			return Obligation{}, err
		}
		obl = next
	}
	return obl, nil
}

func TestObligationInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("amount paid never exceeds the face amount", prop.ForAll(
		func(face int64, cents []int64, outcomes []bool) bool {
			obl, err := runPayments(face, cents, outcomes)
			if err != nil {
				return false
			}
			return obl.AmountPaid().Cmp(obl.FaceAmount) <= 0
		},
		gen.Int64Range(1, 1_000_000),
		gen.SliceOf(gen.Int64Range(1, 500_000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("settlement status follows the amount paid", prop.ForAll(
		func(face int64, cents []int64, outcomes []bool) bool {
			obl, err := runPayments(face, cents, outcomes)
			if err != nil {
				return false
			}
			paid := obl.AmountPaid()
			switch obl.SettlementStatus() {
			case Settled:
				return paid.Equal(obl.FaceAmount)
			case PartiallySettled:
				return paid.IsPositive() && paid.Cmp(obl.FaceAmount) < 0
			default:
				return paid.IsZero()
			}
		},
		gen.Int64Range(1, 1_000_000),
		gen.SliceOf(gen.Int64Range(1, 500_000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("folding the event log yields one payment per recorded event", prop.ForAll(
		func(face int64, cents []int64, outcomes []bool) bool {
			obl, err := runPayments(face, cents, outcomes)
			if err != nil {
				return false
			}
			recorded := 0
			for _, e := range obl.PaymentEvents {
				if e.Type == PaymentRecorded {
					recorded++
				}
			}
			payments := obl.Payments()
			if len(payments) != recorded {
				return false
			}
			for _, p := range payments {
				if !p.Status.IsTerminal() {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1_000_000),
		gen.SliceOf(gen.Int64Range(1, 500_000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}

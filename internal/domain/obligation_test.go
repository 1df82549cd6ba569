package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

var (
	partyA = Party{Key: "key-a", Name: "PartyA"}
	partyB = Party{Key: "key-b", Name: "PartyB"}
	partyC = Party{Key: "key-c", Name: "PartyC"}
	oracle = Party{Key: "oracle-key", Name: "Oracle"}
	now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestObligation(t *testing.T, face int64) Obligation {
	t.Helper()
	obl, err := NewObligation(AmountFromInt(face, "USD"), partyA, partyB, nil, now)
	require.NoError(t, err)
	return obl
}

func sentPayment(ref string, amount int64) Payment {
	return Payment{
		Reference:  ref,
		Amount:     AmountFromInt(amount, "USD"),
		Status:     PaymentStatusSent,
		Rail:       RailXRP,
		RecordedAt: now,
	}
}

func TestNewObligation(t *testing.T) {
	obl := newTestObligation(t, 10000)

	assert.NotEmpty(t, obl.LinearID)
	assert.Equal(t, Unsettled, obl.SettlementStatus())
	assert.Empty(t, obl.Payments())
	assert.Nil(t, obl.SettlementMethod)
	assert.True(t, obl.AmountPaid().IsZero())

	_, err := NewObligation(AmountFromInt(0, "USD"), partyA, partyB, nil, now)
	assert.ErrorIs(t, err, customError.ErrInvalidState)

	_, err = NewObligation(AmountFromInt(10, "USD"), partyA, partyA, nil, now)
	assert.ErrorIs(t, err, customError.ErrInvalidState)
}

func TestWithPayment(t *testing.T) {
	tests := []struct {
		name          string
		prior         []Payment
		settlePrior   bool
		payment       Payment
		expectedError error
	}{
		{
			name:    "Success - full amount",
			payment: sentPayment("R1", 10000),
		},
		{
			name:          "Failure - overpayment",
			payment:       sentPayment("R1", 15000),
			expectedError: customError.ErrOverpayment,
		},
		{
			name:          "Failure - in-flight payments count towards the limit",
			prior:         []Payment{sentPayment("R1", 6000)},
			payment:       sentPayment("R2", 5000),
			expectedError: customError.ErrOverpayment,
		},
		{
			name:        "Success - remaining balance after a settled payment",
			prior:       []Payment{sentPayment("R1", 6000)},
			settlePrior: true,
			payment:     sentPayment("R2", 4000),
		},
		{
			name:          "Failure - duplicate reference",
			prior:         []Payment{sentPayment("R1", 1000)},
			payment:       sentPayment("R1", 1000),
			expectedError: customError.ErrInvalidState,
		},
		{
			name: "Failure - token mismatch",
			payment: Payment{
				Reference: "R1",
				Amount:    AmountFromInt(10, "GBP"),
			},
			expectedError: customError.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obl := newTestObligation(t, 10000)
			var err error
			for _, p := range tt.prior {
				obl, err = obl.WithPayment(p, partyA)
				require.NoError(t, err)
				if tt.settlePrior {
					obl, err = obl.WithPaymentVerified(p.Reference, PaymentStatusSettled, "", oracle, now)
					require.NoError(t, err)
				}
			}

			before := len(obl.PaymentEvents)
			next, err := obl.WithPayment(tt.payment, partyA)

			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Len(t, obl.PaymentEvents, before, "receiver must not change")
				return
			}
			require.NoError(t, err)
			assert.Len(t, next.PaymentEvents, before+1)
			last, ok := next.LatestPayment()
			require.True(t, ok)
			assert.Equal(t, tt.payment.Reference, last.Reference)
			assert.Equal(t, PaymentStatusSent, last.Status)
			assert.Len(t, obl.PaymentEvents, before, "receiver must not change")
		})
	}
}

func TestSettlementStatusBoundary(t *testing.T) {
	face := NewAmount(decimal.RequireFromString("100.10"), "USD")
	obl, err := NewObligation(face, partyA, partyB, nil, now)
	require.NoError(t, err)

	pay := func(o Obligation, ref, qty string) Obligation {
		p := Payment{Reference: ref, Amount: NewAmount(decimal.RequireFromString(qty), "USD"), RecordedAt: now}
		o, err := o.WithPayment(p, partyA)
		require.NoError(t, err)
		o, err = o.WithPaymentVerified(ref, PaymentStatusSettled, "", oracle, now)
		require.NoError(t, err)
		return o
	}

	obl = pay(obl, "R1", "100.09")
	assert.Equal(t, PartiallySettled, obl.SettlementStatus())

	obl = pay(obl, "R2", "0.01")
	assert.Equal(t, Settled, obl.SettlementStatus())
	assert.True(t, obl.AmountPaid().Equal(face))

	_, err = obl.WithPayment(Payment{Reference: "R3", Amount: NewAmount(decimal.RequireFromString("0.01"), "USD")}, partyA)
	assert.ErrorIs(t, err, customError.ErrOverpayment)
}

func TestWithPaymentVerified(t *testing.T) {
	obl := newTestObligation(t, 10000)
	obl, err := obl.WithPayment(sentPayment("R1", 10000), partyA)
	require.NoError(t, err)

	assert.Equal(t, Unsettled, obl.SettlementStatus(), "SENT does not count as paid")

	settled, err := obl.WithPaymentVerified("R1", PaymentStatusSettled, "", oracle, now)
	require.NoError(t, err)
	assert.Equal(t, Settled, settled.SettlementStatus())

	_, err = settled.WithPaymentVerified("R1", PaymentStatusFailed, "late", oracle, now)
	assert.ErrorIs(t, err, customError.ErrInvalidState, "terminal statuses are applied exactly once")

	_, err = obl.WithPaymentVerified("missing", PaymentStatusSettled, "", oracle, now)
	assert.ErrorIs(t, err, customError.ErrReferenceNotFound)

	_, err = obl.WithPaymentVerified("R1", PaymentStatusSent, "", oracle, now)
	assert.ErrorIs(t, err, customError.ErrInvalidState)

	failed, err := obl.WithPaymentVerified("R1", PaymentStatusFailed, "deadline passed", oracle, now)
	require.NoError(t, err)
	p, ok := failed.FindPayment("R1")
	require.True(t, ok)
	assert.Equal(t, PaymentStatusFailed, p.Status)
	assert.Equal(t, "deadline passed", p.FailureReason)
	assert.Equal(t, Unsettled, failed.SettlementStatus())

	_, inFlight := failed.PaymentInFlight()
	assert.False(t, inFlight)

	// a failed attempt frees the amount for a new payment
	_, err = failed.WithPayment(sentPayment("R2", 10000), partyA)
	assert.NoError(t, err)
}

func TestWithSettlementMethod(t *testing.T) {
	oracleRef := oracle
	tests := []struct {
		name          string
		dueBy         *time.Time
		method        SettlementMethod
		settled       bool
		expectedError error
	}{
		{
			name:   "Success - XRP with oracle",
			method: OffLedgerPayment(RailXRP, "rPayee", &oracleRef),
		},
		{
			name:          "Failure - XRP without oracle",
			method:        OffLedgerPayment(RailXRP, "rPayee", nil),
			expectedError: customError.ErrInvalidState,
		},
		{
			name:          "Failure - SWIFT without due date",
			method:        OffLedgerPayment(RailSWIFT, "GB33BUKB20201555555555", &oracleRef),
			expectedError: customError.ErrInvalidState,
		},
		{
			name:   "Success - SWIFT with due date",
			dueBy:  &now,
			method: OffLedgerPayment(RailSWIFT, "GB33BUKB20201555555555", &oracleRef),
		},
		{
			name:   "Success - manual without oracle",
			method: OffLedgerPayment(RailManual, "invoice 42", nil),
		},
		{
			name:          "Failure - on-ledger without matching token",
			method:        OnLedgerSettlement("GBP"),
			expectedError: customError.ErrInvalidState,
		},
		{
			name:          "Failure - partially settled",
			method:        OffLedgerPayment(RailManual, "invoice 42", nil),
			settled:       true,
			expectedError: customError.ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obl, err := NewObligation(AmountFromInt(10000, "USD"), partyA, partyB, tt.dueBy, now)
			require.NoError(t, err)
			if tt.settled {
				obl, err = obl.WithPayment(sentPayment("R1", 100), partyA)
				require.NoError(t, err)
				obl, err = obl.WithPaymentVerified("R1", PaymentStatusSettled, "", oracle, now)
				require.NoError(t, err)
			}

			next, err := obl.WithSettlementMethod(tt.method)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, next.SettlementMethod)
			assert.Equal(t, tt.method.Rail, next.SettlementMethod.Rail)
			assert.Nil(t, obl.SettlementMethod)
		})
	}
}

func TestNovations(t *testing.T) {
	obl := newTestObligation(t, 10000)

	t.Run("token change before payments", func(t *testing.T) {
		next, err := obl.WithNewFaceValueToken(AmountFromInt(8000, "GBP"))
		require.NoError(t, err)
		assert.Equal(t, "GBP", next.FaceAmount.Token)
	})

	t.Run("token change after a payment attempt", func(t *testing.T) {
		paid, err := obl.WithPayment(sentPayment("R1", 100), partyA)
		require.NoError(t, err)
		paid, err = paid.WithPaymentVerified("R1", PaymentStatusFailed, "rejected", oracle, now)
		require.NoError(t, err)

		_, err = paid.WithNewFaceValueToken(AmountFromInt(8000, "GBP"))
		assert.ErrorIs(t, err, customError.ErrInvalidState)
	})

	t.Run("quantity may not drop below amount paid", func(t *testing.T) {
		paid, err := obl.WithPayment(sentPayment("R1", 6000), partyA)
		require.NoError(t, err)
		paid, err = paid.WithPaymentVerified("R1", PaymentStatusSettled, "", oracle, now)
		require.NoError(t, err)

		_, err = paid.WithNewFaceValueQuantity(AmountFromInt(5999, "USD"))
		assert.ErrorIs(t, err, customError.ErrInvalidState)

		next, err := paid.WithNewFaceValueQuantity(AmountFromInt(6000, "USD"))
		require.NoError(t, err)
		assert.Equal(t, Settled, next.SettlementStatus())
	})

	t.Run("counterparty swap", func(t *testing.T) {
		next, err := obl.WithNewCounterparty(partyB, partyC)
		require.NoError(t, err)
		assert.True(t, next.Obligee.Is(partyC))

		_, err = obl.WithNewCounterparty(partyC, partyB)
		assert.ErrorIs(t, err, customError.ErrNotAParticipant)

		_, err = obl.WithNewCounterparty(partyB, partyA)
		assert.ErrorIs(t, err, customError.ErrInvalidState)
	})

	t.Run("due date via command", func(t *testing.T) {
		due := now.Add(48 * time.Hour)
		next, err := NovationCommand{Kind: NovateDueBy, DueBy: &due}.Apply(obl)
		require.NoError(t, err)
		require.NotNil(t, next.DueBy)
		assert.True(t, next.DueBy.Equal(due))
		assert.True(t, next.InDefault(due.Add(time.Second)))
		assert.False(t, next.InDefault(due))
	})

	t.Run("unknown command", func(t *testing.T) {
		_, err := NovationCommand{Kind: "rename"}.Apply(obl)
		assert.ErrorIs(t, err, customError.ErrInvalidState)
	})
}

type mapResolver map[string]Party

func (m mapResolver) Resolve(_ context.Context, p Party) (Party, error) {
	if wk, ok := m[p.Key]; ok {
		return wk, nil
	}
	return Party{}, errors.New("unknown party")
}

func TestWithWellKnownIdentities(t *testing.T) {
	anonA := Party{Key: "anon-1"}
	obl, err := NewObligation(AmountFromInt(10, "USD"), anonA, partyB, nil, now)
	require.NoError(t, err)

	resolved, err := obl.WithWellKnownIdentities(context.Background(), mapResolver{"anon-1": partyA})
	require.NoError(t, err)
	assert.True(t, resolved.Obligor.Is(partyA))
	assert.True(t, resolved.Obligee.Is(partyB))
	assert.True(t, obl.Obligor.Is(anonA), "receiver keeps the pseudonym")

	_, err = obl.WithWellKnownIdentities(context.Background(), mapResolver{})
	assert.Error(t, err)
}

func TestObligationRoundTrip(t *testing.T) {
	oracleRef := oracle
	due := now.Add(72 * time.Hour)
	obl, err := NewObligation(NewAmount(decimal.RequireFromString("10000.50"), "USD"), partyA, partyB, &due, now)
	require.NoError(t, err)
	obl, err = obl.WithSettlementMethod(OffLedgerPayment(RailXRP, "rPayee", &oracleRef))
	require.NoError(t, err)
	obl, err = obl.WithPayment(sentPayment("R1", 4000), partyA)
	require.NoError(t, err)
	obl, err = obl.WithPaymentVerified("R1", PaymentStatusSettled, "", oracle, now)
	require.NoError(t, err)
	obl, err = obl.WithPayment(sentPayment("R2", 1000), partyA)
	require.NoError(t, err)

	data, err := json.Marshal(obl)
	require.NoError(t, err)

	var reloaded Obligation
	require.NoError(t, json.Unmarshal(data, &reloaded))

	assert.Equal(t, obl.SettlementStatus(), reloaded.SettlementStatus())
	assert.Equal(t, *obl.SettlementMethod, *reloaded.SettlementMethod)
	original, again := obl.Payments(), reloaded.Payments()
	require.Len(t, again, len(original))
	for i := range original {
		assert.Equal(t, original[i].Reference, again[i].Reference)
		assert.Equal(t, original[i].Status, again[i].Status)
		assert.True(t, original[i].Amount.Equal(again[i].Amount))
	}
}

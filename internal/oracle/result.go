// Package oracle verifies off-ledger payments against their rail and attests
// to the outcome with a signed settlement result.
package oracle

import (
	"time"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/rail"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
	"github.com/segyhp/settlement-engine/pkg/signer"
)

// SettlementResult is the oracle's terminal verdict on the latest payment of an obligation.
type SettlementResult struct {
	LinearID      string               `json:"linear_id"`
	Reference     string               `json:"reference,omitempty"`
	Outcome       rail.Outcome         `json:"outcome"`
	PaymentStatus domain.PaymentStatus `json:"payment_status,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	// Obligation is the updated obligation on success, or the obligation as received on failure.
	Obligation *domain.Obligation `json:"obligation,omitempty"`
	Oracle     domain.Party       `json:"oracle"`
	SignedAt   time.Time          `json:"signed_at"`
	Signature  string             `json:"signature"`
}

// attestation is the signed part of a result. The obligation document is left
// out; the initiator re-applies the outcome to its own current version.
type attestation struct {
	LinearID      string               `json:"linear_id"`
	Reference     string               `json:"reference"`
	Outcome       rail.Outcome         `json:"outcome"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Reason        string               `json:"reason"`
	Oracle        string               `json:"oracle"`
	SignedAt      string               `json:"signed_at"`
}

func (r SettlementResult) attestation() attestation {
	return attestation{
		LinearID:      r.LinearID,
		Reference:     r.Reference,
		Outcome:       r.Outcome,
		PaymentStatus: r.PaymentStatus,
		Reason:        r.Reason,
		Oracle:        r.Oracle.Key,
		SignedAt:      r.SignedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Succeeded reports whether the payment was confirmed.
func (r SettlementResult) Succeeded() bool {
	return r.Outcome == rail.OutcomeSuccess
}

// Err converts a failed result into the matching verification error.
func (r SettlementResult) Err() error {
	switch r.Outcome {
	case rail.OutcomeSuccess:
		return nil
	case rail.OutcomeTimeout:
		return customError.WrapVerificationTimeout(r.Reference, r.Reason)
	default:
		return customError.WrapVerificationRejected(r.Reference, r.Reason)
	}
}

// VerifySignature checks that the result was signed by the oracle it names.
// An oracle party's key is its hex encoded ed25519 public key.
func VerifySignature(r SettlementResult) error {
	if r.Signature == "" {
		return customError.WrapInvalidSignature(nil)
	}
	if err := signer.VerifyJSON(r.Oracle.Key, r.Signature, r.attestation()); err != nil {
		return customError.WrapInvalidSignature(err)
	}
	return nil
}

// Package rail defines the contract every off-ledger payment rail implements
// and the registry the orchestrator and the oracle dispatch through.
package rail

import (
	"context"
	"fmt"
	"sync"

	"github.com/segyhp/settlement-engine/internal/domain"
)

// Instruction is what the orchestrator asks a rail to pay.
type Instruction struct {
	Obligation domain.Obligation
	Amount     domain.Amount
	// Reference is a caller supplied payment reference for rails without their own identifiers.
	Reference string
}

// Adapter is the payer side of a rail.
type Adapter interface {
	// Kind returns the rail this adapter pays through
	Kind() domain.RailKind

	// RequiresObligeeSignature reports whether recording a payment needs the obligee to sign
	RequiresObligeeSignature() bool

	// Setup reserves whatever the payment needs; its result is checkpointed before paying
	Setup(ctx context.Context, in Instruction) (domain.Reservation, error)

	// CheckBalance is an advisory precondition check
	CheckBalance(ctx context.Context, in Instruction, res domain.Reservation) error

	// MakePayment submits the payment. Called at most once per reservation.
	MakePayment(ctx context.Context, in Instruction, res domain.Reservation) (domain.Payment, error)
}

// Outcome is a single verification poll result.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeTimeout  Outcome = "TIMEOUT"
	OutcomePending  Outcome = "PENDING"
)

// IsFinal reports whether polling can stop.
func (o Outcome) IsFinal() bool {
	return o != OutcomePending
}

// Verification is what a rail verifier observed for one payment.
type Verification struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

func Pending(reason string) Verification {
	return Verification{Outcome: OutcomePending, Reason: reason}
}

// Verifier is the read-only oracle side of a rail.
type Verifier interface {
	Verify(ctx context.Context, obligation domain.Obligation, payment domain.Payment) (Verification, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, obligation domain.Obligation, payment domain.Payment) (Verification, error)

func (f VerifierFunc) Verify(ctx context.Context, obligation domain.Obligation, payment domain.Payment) (Verification, error) {
	return f(ctx, obligation, payment)
}

// Registry resolves adapters and verifiers by rail kind.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[domain.RailKind]Adapter
	verifiers map[domain.RailKind]Verifier
}

func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[domain.RailKind]Adapter),
		verifiers: make(map[domain.RailKind]Verifier),
	}
}

func (r *Registry) RegisterAdapter(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

func (r *Registry) RegisterVerifier(kind domain.RailKind, v Verifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifiers[kind] = v
}

func (r *Registry) Adapter(kind domain.RailKind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("no payment adapter registered for rail %q", kind)
	}
	return a, nil
}

func (r *Registry) Verifier(kind domain.RailKind) (Verifier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verifiers[kind]
	if !ok {
		return nil, fmt.Errorf("no verifier registered for rail %q", kind)
	}
	return v, nil
}

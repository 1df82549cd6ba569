package repository

import (
	"context"

	"github.com/segyhp/settlement-engine/internal/domain"
)

// ObligationRepository defines the interface for the versioned obligation store
type ObligationRepository interface {
	// Create stores the first version of an obligation
	Create(ctx context.Context, obligation domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error)

	// GetCurrent retrieves the latest unconsumed version by linear ID
	GetCurrent(ctx context.Context, linearID string) (*domain.VersionedObligation, error)

	// ProposeNext atomically replaces prev with next; fails with a conflict if prev is stale
	ProposeNext(ctx context.Context, prev domain.VersionedObligation, next domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error)

	// Consume marks the obligation as removed, conditioned on prev being current
	Consume(ctx context.Context, prev domain.VersionedObligation, signers []domain.Party) error

	// List returns all unconsumed obligations
	List(ctx context.Context) ([]domain.VersionedObligation, error)

	// ListAwaitingVerification returns obligations whose latest payment has no terminal status
	ListAwaitingVerification(ctx context.Context) ([]domain.VersionedObligation, error)
}

// CheckpointRepository defines the interface for durable orchestration progress
type CheckpointRepository interface {
	// Save stores the checkpoint, replacing any previous one for the same obligation
	Save(ctx context.Context, checkpoint domain.Checkpoint) error

	// Load returns the checkpoint for an obligation, or nil if none exists
	Load(ctx context.Context, linearID string) (*domain.Checkpoint, error)

	// Delete removes the checkpoint for an obligation
	Delete(ctx context.Context, linearID string) error
}

// IdentityRepository defines the interface for pseudonym to well-known identity mapping
type IdentityRepository interface {
	// Register binds a pseudonymous key to a well-known party
	Register(ctx context.Context, anonymous domain.Party, wellKnown domain.Party) error

	// Resolve maps a party to its well-known identity
	Resolve(ctx context.Context, party domain.Party) (domain.Party, error)
}

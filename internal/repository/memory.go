package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

// MemoryObligationRepository is an in-process ObligationRepository with the
// same compare-and-swap semantics as the SQL store.
type MemoryObligationRepository struct {
	mu      sync.Mutex
	current map[string]domain.VersionedObligation
	order   []string
	history map[string][]VersionRecord
}

// VersionRecord is one committed version and who signed it.
type VersionRecord struct {
	Version  int64
	Document domain.Obligation
	Signers  []domain.Party
	Consumed bool
}

func NewMemoryObligationRepository() *MemoryObligationRepository {
	return &MemoryObligationRepository{
		current: make(map[string]domain.VersionedObligation),
		history: make(map[string][]VersionRecord),
	}
}

func (r *MemoryObligationRepository) Create(_ context.Context, obligation domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.history[obligation.LinearID]; exists {
		return nil, customError.WrapConflict(obligation.LinearID, 0)
	}
	v := domain.VersionedObligation{Obligation: obligation.Clone(), Version: 1}
	r.current[obligation.LinearID] = v
	r.order = append(r.order, obligation.LinearID)
	r.history[obligation.LinearID] = []VersionRecord{{Version: 1, Document: obligation.Clone(), Signers: signers}}
	return &domain.VersionedObligation{Obligation: v.Obligation.Clone(), Version: 1}, nil
}

func (r *MemoryObligationRepository) GetCurrent(_ context.Context, linearID string) (*domain.VersionedObligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.current[linearID]
	if !ok {
		return nil, customError.WrapObligationNotFound(linearID)
	}
	return &domain.VersionedObligation{Obligation: v.Obligation.Clone(), Version: v.Version}, nil
}

func (r *MemoryObligationRepository) ProposeNext(_ context.Context, prev domain.VersionedObligation, next domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	linearID := prev.Obligation.LinearID
	if next.LinearID != linearID {
		return nil, customError.WrapInvalidState("linear ID cannot change between versions")
	}
	cur, ok := r.current[linearID]
	if !ok || cur.Version != prev.Version {
		return nil, customError.WrapConflict(linearID, prev.Version)
	}
	v := domain.VersionedObligation{Obligation: next.Clone(), Version: prev.Version + 1}
	r.current[linearID] = v
	r.history[linearID] = append(r.history[linearID], VersionRecord{Version: v.Version, Document: next.Clone(), Signers: signers})
	return &domain.VersionedObligation{Obligation: next.Clone(), Version: v.Version}, nil
}

func (r *MemoryObligationRepository) Consume(_ context.Context, prev domain.VersionedObligation, signers []domain.Party) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	linearID := prev.Obligation.LinearID
	cur, ok := r.current[linearID]
	if !ok || cur.Version != prev.Version {
		return customError.WrapConflict(linearID, prev.Version)
	}
	delete(r.current, linearID)
	r.history[linearID] = append(r.history[linearID], VersionRecord{Version: prev.Version + 1, Document: prev.Obligation.Clone(), Signers: signers, Consumed: true})
	return nil
}

func (r *MemoryObligationRepository) List(_ context.Context) ([]domain.VersionedObligation, error) {
	return r.filter(func(domain.Obligation) bool { return true }), nil
}

func (r *MemoryObligationRepository) ListAwaitingVerification(_ context.Context) ([]domain.VersionedObligation, error) {
	return r.filter(func(o domain.Obligation) bool {
		_, inFlight := o.PaymentInFlight()
		return inFlight
	}), nil
}

func (r *MemoryObligationRepository) filter(keep func(domain.Obligation) bool) []domain.VersionedObligation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.VersionedObligation, 0, len(r.current))
	for _, id := range r.order {
		v, ok := r.current[id]
		if !ok || !keep(v.Obligation) {
			continue
		}
		out = append(out, domain.VersionedObligation{Obligation: v.Obligation.Clone(), Version: v.Version})
	}
	return out
}

// History returns every committed version of an obligation, oldest first.
func (r *MemoryObligationRepository) History(linearID string) []VersionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]VersionRecord(nil), r.history[linearID]...)
}

// MemoryCheckpointRepository keeps checkpoints in a map.
type MemoryCheckpointRepository struct {
	mu          sync.Mutex
	checkpoints map[string]domain.Checkpoint
}

func NewMemoryCheckpointRepository() *MemoryCheckpointRepository {
	return &MemoryCheckpointRepository{checkpoints: make(map[string]domain.Checkpoint)}
}

func (r *MemoryCheckpointRepository) Save(_ context.Context, checkpoint domain.Checkpoint) error {
	if checkpoint.LinearID == "" {
		return fmt.Errorf("checkpoint needs a linear ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpoints[checkpoint.LinearID] = checkpoint
	return nil
}

func (r *MemoryCheckpointRepository) Load(_ context.Context, linearID string) (*domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.checkpoints[linearID]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (r *MemoryCheckpointRepository) Delete(_ context.Context, linearID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkpoints, linearID)
	return nil
}

// MemoryIdentityRepository maps pseudonyms in memory.
type MemoryIdentityRepository struct {
	mu         sync.RWMutex
	identities map[string]domain.Party
}

func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{identities: make(map[string]domain.Party)}
}

func (r *MemoryIdentityRepository) Register(_ context.Context, anonymous domain.Party, wellKnown domain.Party) error {
	if wellKnown.IsAnonymous() {
		return fmt.Errorf("cannot bind %s to another pseudonym", anonymous.Key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[anonymous.Key] = wellKnown
	return nil
}

func (r *MemoryIdentityRepository) Resolve(_ context.Context, party domain.Party) (domain.Party, error) {
	if !party.IsAnonymous() {
		return party, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	wk, ok := r.identities[party.Key]
	if !ok {
		return domain.Party{}, customError.WrapNotAParticipant(party.Key)
	}
	return wk, nil
}

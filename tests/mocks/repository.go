package mocks

import (
	"context"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockObligationRepository struct {
	mock.Mock
}

func (m *MockObligationRepository) Create(ctx context.Context, obligation domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, obligation, signers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationRepository) GetCurrent(ctx context.Context, linearID string) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, linearID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationRepository) ProposeNext(ctx context.Context, prev domain.VersionedObligation, next domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, prev, next, signers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationRepository) Consume(ctx context.Context, prev domain.VersionedObligation, signers []domain.Party) error {
	args := m.Called(ctx, prev, signers)
	return args.Error(0)
}

func (m *MockObligationRepository) List(ctx context.Context) ([]domain.VersionedObligation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationRepository) ListAwaitingVerification(ctx context.Context) ([]domain.VersionedObligation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VersionedObligation), args.Error(1)
}

type MockCheckpointRepository struct {
	mock.Mock
}

func (m *MockCheckpointRepository) Save(ctx context.Context, checkpoint domain.Checkpoint) error {
	args := m.Called(ctx, checkpoint)
	return args.Error(0)
}

func (m *MockCheckpointRepository) Load(ctx context.Context, linearID string) (*domain.Checkpoint, error) {
	args := m.Called(ctx, linearID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Checkpoint), args.Error(1)
}

func (m *MockCheckpointRepository) Delete(ctx context.Context, linearID string) error {
	args := m.Called(ctx, linearID)
	return args.Error(0)
}

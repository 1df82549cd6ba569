package mocks

import (
	"context"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockObligationService struct {
	mock.Mock
}

func (m *MockObligationService) CreateObligation(ctx context.Context, caller domain.Party, request domain.CreateObligationRequest) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, caller, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationService) GetObligation(ctx context.Context, linearID string) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, linearID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationService) ListObligations(ctx context.Context) ([]domain.VersionedObligation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationService) UpdateSettlementMethod(ctx context.Context, caller domain.Party, linearID string, method domain.SettlementMethod) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, caller, linearID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationService) Novate(ctx context.Context, caller domain.Party, linearID string, command domain.NovationCommand) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, caller, linearID, command)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

func (m *MockObligationService) Cancel(ctx context.Context, caller domain.Party, linearID string) error {
	args := m.Called(ctx, caller, linearID)
	return args.Error(0)
}

func (m *MockObligationService) AttachPaymentReference(ctx context.Context, caller domain.Party, linearID string, attached domain.AttachPaymentRequest) (*domain.VersionedObligation, error) {
	args := m.Called(ctx, caller, linearID, attached)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionedObligation), args.Error(1)
}

type MockSettlementService struct {
	mock.Mock
}

func (m *MockSettlementService) Settle(ctx context.Context, caller domain.Party, linearID string, amount decimal.Decimal, opts service.SettleOptions) (*service.SettlementReceipt, error) {
	args := m.Called(ctx, caller, linearID, amount, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SettlementReceipt), args.Error(1)
}

func (m *MockSettlementService) ResumeVerification(ctx context.Context, linearID string) (*service.SettlementReceipt, error) {
	args := m.Called(ctx, linearID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SettlementReceipt), args.Error(1)
}

type MockOracleVerifier struct {
	mock.Mock
}

func (m *MockOracleVerifier) Verify(ctx context.Context, obl domain.Obligation) (*oracle.SettlementResult, error) {
	args := m.Called(ctx, obl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.SettlementResult), args.Error(1)
}

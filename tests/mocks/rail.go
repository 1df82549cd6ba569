package mocks

import (
	"context"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/rail"
	"github.com/stretchr/testify/mock"
)

type MockAdapter struct {
	mock.Mock
	RailKind domain.RailKind
}

func (m *MockAdapter) Kind() domain.RailKind {
	return m.RailKind
}

func (m *MockAdapter) RequiresObligeeSignature() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockAdapter) Setup(ctx context.Context, in rail.Instruction) (domain.Reservation, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(domain.Reservation), args.Error(1)
}

func (m *MockAdapter) CheckBalance(ctx context.Context, in rail.Instruction, res domain.Reservation) error {
	args := m.Called(ctx, in, res)
	return args.Error(0)
}

func (m *MockAdapter) MakePayment(ctx context.Context, in rail.Instruction, res domain.Reservation) (domain.Payment, error) {
	args := m.Called(ctx, in, res)
	return args.Get(0).(domain.Payment), args.Error(1)
}

type MockOracleClient struct {
	mock.Mock
}

func (m *MockOracleClient) RequestVerification(ctx context.Context, obl domain.Obligation) (*oracle.SettlementResult, error) {
	args := m.Called(ctx, obl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.SettlementResult), args.Error(1)
}

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/oracle"
	"github.com/segyhp/settlement-engine/internal/rail"
	"github.com/segyhp/settlement-engine/internal/repository"
	"github.com/segyhp/settlement-engine/internal/service"
	"github.com/segyhp/settlement-engine/pkg/logger"
	"github.com/segyhp/settlement-engine/pkg/signer"
)

var (
	partyA = domain.Party{Key: "party-a", Name: "PartyA"}
	partyB = domain.Party{Key: "party-b", Name: "PartyB"}
	partyC = domain.Party{Key: "party-c", Name: "PartyC"}

	fixedDue = time.Now().Add(30 * 24 * time.Hour).UTC()
)

type fixture struct {
	obligations *repository.MemoryObligationRepository
	checkpoints *repository.MemoryCheckpointRepository
	identities  *repository.MemoryIdentityRepository
	service     *service.ObligationService
	oracle      *oracle.Service
	// outcome is what the oracle's rail verifier reports.
	outcome rail.Verification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		obligations: repository.NewMemoryObligationRepository(),
		checkpoints: repository.NewMemoryCheckpointRepository(),
		identities:  repository.NewMemoryIdentityRepository(),
		outcome:     rail.Verification{Outcome: rail.OutcomeSuccess},
	}
	f.service = service.NewObligationService(f.obligations, f.identities, f.checkpoints, logger.Discard())

	sig, err := signer.New()
	require.NoError(t, err)
	registry := rail.NewRegistry()
	verifier := rail.VerifierFunc(func(context.Context, domain.Obligation, domain.Payment) (rail.Verification, error) {
		return f.outcome, nil
	})
	registry.RegisterVerifier(domain.RailXRP, verifier)
	registry.RegisterVerifier(domain.RailSWIFT, verifier)
	f.oracle = oracle.NewService("Oracle", sig, registry, time.Millisecond, logger.Discard(),
		oracle.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	return f
}

// create stores a 10000 USD obligation from A to B.
func (f *fixture) create(t *testing.T) *domain.VersionedObligation {
	t.Helper()
	v, err := f.service.CreateObligation(context.Background(), partyA, domain.CreateObligationRequest{
		Amount:       domain.AmountFromInt(10000, "USD").Quantity,
		Token:        "USD",
		Role:         domain.RoleObligor,
		Counterparty: domain.PartyRequest{Key: partyB.Key, Name: partyB.Name},
	})
	require.NoError(t, err)
	return v
}

// withMethod sets an off-ledger method designating the fixture oracle.
func (f *fixture) withMethod(t *testing.T, linearID string, kind domain.RailKind) *domain.VersionedObligation {
	t.Helper()
	oracleParty := f.oracle.Identity()
	method := domain.OffLedgerPayment(kind, "rDestination", &oracleParty)
	if kind == domain.RailManual {
		method = domain.OffLedgerPayment(kind, "cheque", nil)
	}
	v, err := f.service.UpdateSettlementMethod(context.Background(), partyB, linearID, method)
	require.NoError(t, err)
	return v
}

// recordPayment appends a SENT payment directly through the store.
func (f *fixture) recordPayment(t *testing.T, linearID, reference string, amount int64) *domain.VersionedObligation {
	t.Helper()
	ctx := context.Background()
	current, err := f.obligations.GetCurrent(ctx, linearID)
	require.NoError(t, err)
	next, err := current.Obligation.WithPayment(domain.Payment{
		Reference:  reference,
		Amount:     domain.AmountFromInt(amount, "USD"),
		Status:     domain.PaymentStatusSent,
		Rail:       domain.RailXRP,
		RecordedAt: time.Now().UTC(),
	}, current.Obligation.Obligor)
	require.NoError(t, err)
	v, err := f.obligations.ProposeNext(ctx, *current, next, next.Participants())
	require.NoError(t, err)
	return v
}

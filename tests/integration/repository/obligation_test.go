package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/repository"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

var (
	partyA = domain.Party{Key: "key-a", Name: "PartyA"}
	partyB = domain.Party{Key: "key-b", Name: "PartyB"}
	oracle = domain.Party{Key: "oracle-key", Name: "Oracle"}
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, repository.Migrate(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func newObligation(t *testing.T) domain.Obligation {
	t.Helper()
	obl, err := domain.NewObligation(domain.AmountFromInt(10000, "USD"), partyA, partyB, nil, time.Now())
	require.NoError(t, err)
	return obl
}

func TestObligationRepository_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewObligationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newObligation(t), []domain.Party{partyA})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	oracleRef := oracle
	withMethod, err := created.Obligation.WithSettlementMethod(domain.OffLedgerPayment(domain.RailXRP, "rPayee", &oracleRef))
	require.NoError(t, err)
	v2, err := repo.ProposeNext(ctx, *created, withMethod, []domain.Party{partyB})
	require.NoError(t, err)

	paid, err := v2.Obligation.WithPayment(domain.Payment{
		Reference:          "R1",
		Amount:             domain.AmountFromInt(10000, "USD"),
		Rail:               domain.RailXRP,
		LastLedgerSequence: 120,
		RecordedAt:         time.Now().UTC(),
	}, partyA)
	require.NoError(t, err)
	v3, err := repo.ProposeNext(ctx, *v2, paid, []domain.Party{partyA})
	require.NoError(t, err)

	awaiting, err := repo.ListAwaitingVerification(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, v3.Version, awaiting[0].Version)

	settled, err := v3.Obligation.WithPaymentVerified("R1", domain.PaymentStatusSettled, "", oracle, time.Now())
	require.NoError(t, err)
	v4, err := repo.ProposeNext(ctx, *v3, settled, []domain.Party{oracle})
	require.NoError(t, err)

	reloaded, err := repo.GetCurrent(ctx, created.Obligation.LinearID)
	require.NoError(t, err)
	assert.Equal(t, v4.Version, reloaded.Version)
	assert.Equal(t, domain.Settled, reloaded.Obligation.SettlementStatus())
	payments := reloaded.Obligation.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, uint32(120), payments[0].LastLedgerSequence)
	assert.Equal(t, "rPayee", reloaded.Obligation.SettlementMethod.AccountToPay)

	awaiting, err = repo.ListAwaitingVerification(ctx)
	require.NoError(t, err)
	assert.Empty(t, awaiting)

	// stale writer
	_, err = repo.ProposeNext(ctx, *v3, settled, nil)
	assert.ErrorIs(t, err, customError.ErrConflict)
}

func TestObligationRepository_ConcurrentProposeNext(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewObligationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newObligation(t), nil)
	require.NoError(t, err)
	due := time.Now().Add(24 * time.Hour)
	next, err := created.Obligation.WithDueDate(&due)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.ProposeNext(ctx, *created, next, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, customError.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestObligationRepository_Consume(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewObligationRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, newObligation(t), nil)
	require.NoError(t, err)
	require.NoError(t, repo.Consume(ctx, *created, []domain.Party{partyA, partyB}))

	_, err = repo.GetCurrent(ctx, created.Obligation.LinearID)
	assert.ErrorIs(t, err, customError.ErrObligationNotFound)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIdentityRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := repository.NewIdentityRepository(db)
	ctx := context.Background()
	anon := domain.Party{Key: "anon-1"}

	_, err := repo.Resolve(ctx, anon)
	assert.ErrorIs(t, err, customError.ErrNotAParticipant)

	require.NoError(t, repo.Register(ctx, anon, partyA))
	require.NoError(t, repo.Register(ctx, anon, partyB))

	resolved, err := repo.Resolve(ctx, anon)
	require.NoError(t, err)
	assert.Equal(t, partyB, resolved)
}

func TestCheckpointRepository_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	repo := repository.NewCheckpointRepository(client, time.Minute)
	linearID := "it-" + time.Now().Format("150405.000000000")

	cp, err := repo.Load(ctx, linearID)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, repo.Save(ctx, domain.Checkpoint{
		LinearID:         linearID,
		State:            domain.StatePaying,
		Amount:           domain.AmountFromInt(5, "USD"),
		Reservation:      &domain.Reservation{Rail: domain.RailXRP, Sequence: 42},
		PaymentAttempted: true,
	}))

	cp, err = repo.Load(ctx, linearID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.PaymentAttempted)
	assert.Equal(t, uint32(42), cp.Reservation.Sequence)

	require.NoError(t, repo.Delete(ctx, linearID))
	cp, err = repo.Load(ctx, linearID)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

type obligationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewObligationRepository(db *sqlx.DB) ObligationRepository {
	return &obligationRepository{db: db, now: time.Now}
}

type obligationRow struct {
	LinearID string `db:"linear_id"`
	Version  int64  `db:"version"`
	Document string `db:"document"`
}

func (row obligationRow) decode() (*domain.VersionedObligation, error) {
	var obl domain.Obligation
	if err := json.Unmarshal([]byte(row.Document), &obl); err != nil {
		return nil, fmt.Errorf("decode obligation %s: %w", row.LinearID, err)
	}
	return &domain.VersionedObligation{Obligation: obl, Version: row.Version}, nil
}

func (r *obligationRepository) Create(ctx context.Context, obligation domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	doc, signerDoc, err := encode(obligation, signers)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	query := r.db.Rebind(`
		INSERT INTO obligations (linear_id, version, obligor, obligee, settlement_status, awaiting_verification, consumed, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`)
	_, err = tx.ExecContext(ctx, query,
		obligation.LinearID,
		1,
		obligation.Obligor.Key,
		obligation.Obligee.Key,
		string(obligation.SettlementStatus()),
		awaiting(obligation),
		doc,
		now,
		now,
	)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	if err := r.appendVersion(ctx, tx, obligation.LinearID, 1, doc, signerDoc, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return &domain.VersionedObligation{Obligation: obligation.Clone(), Version: 1}, nil
}

func (r *obligationRepository) GetCurrent(ctx context.Context, linearID string) (*domain.VersionedObligation, error) {
	query := r.db.Rebind(`
		SELECT linear_id, version, document
		FROM obligations
		WHERE linear_id = ? AND consumed = 0
	`)

	var row obligationRow
	err := r.db.GetContext(ctx, &row, query, linearID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customError.WrapObligationNotFound(linearID)
	}
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return row.decode()
}

func (r *obligationRepository) ProposeNext(ctx context.Context, prev domain.VersionedObligation, next domain.Obligation, signers []domain.Party) (*domain.VersionedObligation, error) {
	if next.LinearID != prev.Obligation.LinearID {
		return nil, customError.WrapInvalidState("linear ID cannot change between versions")
	}
	doc, signerDoc, err := encode(next, signers)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	version := prev.Version + 1
	query := r.db.Rebind(`
		UPDATE obligations
		SET version = ?, obligor = ?, obligee = ?, settlement_status = ?, awaiting_verification = ?, document = ?, updated_at = ?
		WHERE linear_id = ? AND version = ? AND consumed = 0
	`)
	result, err := tx.ExecContext(ctx, query,
		version,
		next.Obligor.Key,
		next.Obligee.Key,
		string(next.SettlementStatus()),
		awaiting(next),
		doc,
		now,
		next.LinearID,
		prev.Version,
	)
	if err != nil {
		return nil, customError.WrapDatabaseError(err)
	}
	if err := requireOneRow(result, next.LinearID, prev.Version); err != nil {
		return nil, err
	}

	if err := r.appendVersion(ctx, tx, next.LinearID, version, doc, signerDoc, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	return &domain.VersionedObligation{Obligation: next.Clone(), Version: version}, nil
}

func (r *obligationRepository) Consume(ctx context.Context, prev domain.VersionedObligation, signers []domain.Party) error {
	doc, signerDoc, err := encode(prev.Obligation, signers)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	query := r.db.Rebind(`
		UPDATE obligations
		SET consumed = 1, version = ?, updated_at = ?
		WHERE linear_id = ? AND version = ? AND consumed = 0
	`)
	result, err := tx.ExecContext(ctx, query, prev.Version+1, now, prev.Obligation.LinearID, prev.Version)
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if err := requireOneRow(result, prev.Obligation.LinearID, prev.Version); err != nil {
		return err
	}

	if err := r.appendVersion(ctx, tx, prev.Obligation.LinearID, prev.Version+1, doc, signerDoc, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func (r *obligationRepository) List(ctx context.Context) ([]domain.VersionedObligation, error) {
	return r.list(ctx, `
		SELECT linear_id, version, document
		FROM obligations
		WHERE consumed = 0
		ORDER BY created_at ASC
	`)
}

func (r *obligationRepository) ListAwaitingVerification(ctx context.Context) ([]domain.VersionedObligation, error) {
	return r.list(ctx, `
		SELECT linear_id, version, document
		FROM obligations
		WHERE consumed = 0 AND awaiting_verification = 1
		ORDER BY updated_at ASC
	`)
}

func (r *obligationRepository) list(ctx context.Context, query string) ([]domain.VersionedObligation, error) {
	var rows []obligationRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query)); err != nil {
		return nil, customError.WrapDatabaseError(err)
	}

	obligations := make([]domain.VersionedObligation, 0, len(rows))
	for _, row := range rows {
		v, err := row.decode()
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, *v)
	}
	return obligations, nil
}

func (r *obligationRepository) appendVersion(ctx context.Context, tx *sqlx.Tx, linearID string, version int64, doc, signers string, at time.Time) error {
	query := r.db.Rebind(`
		INSERT INTO obligation_versions (linear_id, version, document, signers, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := tx.ExecContext(ctx, query, linearID, version, doc, signers, at); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func requireOneRow(result sql.Result, linearID string, version int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return customError.WrapDatabaseError(err)
	}
	if affected != 1 {
		return customError.WrapConflict(linearID, version)
	}
	return nil
}

func encode(obligation domain.Obligation, signers []domain.Party) (string, string, error) {
	doc, err := json.Marshal(obligation)
	if err != nil {
		return "", "", fmt.Errorf("encode obligation %s: %w", obligation.LinearID, err)
	}
	signerDoc, err := json.Marshal(signers)
	if err != nil {
		return "", "", fmt.Errorf("encode signers: %w", err)
	}
	return string(doc), string(signerDoc), nil
}

func awaiting(o domain.Obligation) int {
	if _, ok := o.PaymentInFlight(); ok {
		return 1
	}
	return 0
}

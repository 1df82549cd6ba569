package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

type identityRepository struct {
	db *sqlx.DB
}

func NewIdentityRepository(db *sqlx.DB) IdentityRepository {
	return &identityRepository{db: db}
}

func (r *identityRepository) Register(ctx context.Context, anonymous domain.Party, wellKnown domain.Party) error {
	if wellKnown.IsAnonymous() {
		return fmt.Errorf("cannot bind %s to another pseudonym", anonymous.Key)
	}
	query := r.db.Rebind(`
		INSERT INTO confidential_identities (anonymous_key, well_known_key, well_known_name)
		VALUES (?, ?, ?)
		ON CONFLICT (anonymous_key) DO UPDATE SET well_known_key = excluded.well_known_key, well_known_name = excluded.well_known_name
	`)
	if _, err := r.db.ExecContext(ctx, query, anonymous.Key, wellKnown.Key, wellKnown.Name); err != nil {
		return customError.WrapDatabaseError(err)
	}
	return nil
}

func (r *identityRepository) Resolve(ctx context.Context, party domain.Party) (domain.Party, error) {
	if !party.IsAnonymous() {
		return party, nil
	}
	query := r.db.Rebind(`
		SELECT well_known_key, well_known_name
		FROM confidential_identities
		WHERE anonymous_key = ?
	`)
	var row struct {
		Key  string `db:"well_known_key"`
		Name string `db:"well_known_name"`
	}
	err := r.db.GetContext(ctx, &row, query, party.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Party{}, customError.WrapNotAParticipant(party.Key)
	}
	if err != nil {
		return domain.Party{}, customError.WrapDatabaseError(err)
	}
	return domain.Party{Key: row.Key, Name: row.Name}, nil
}

package magic

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatehouse-app/gatehouse/internal/platform/db"
)

// Store defines persistence for one-time tokens.
type Store interface {
	Insert(ctx context.Context, token, identityID string, expiresAt time.Time) error
	Redeem(ctx context.Context, token string, now time.Time) (string, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL token store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Insert persists a freshly issued token.
func (s *PGStore) Insert(ctx context.Context, token, identityID string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO magic_tokens (token, identity_id, expires_at, used, created_at) VALUES ($1, $2, $3, false, now())`,
		token, identityID, expiresAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505: two issuances collided on the same random value.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyUsed
		}
		return err
	}
	return nil
}

// Redeem looks up the token and marks it used in one transaction, so
// concurrent redemptions of the same token cannot both observe used=false.
// Returns the owning identity id.
func (s *PGStore) Redeem(ctx context.Context, token string, now time.Time) (string, error) {
	var identityID string
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			expiresAt time.Time
			used      bool
		)
		row := tx.QueryRow(ctx,
			`SELECT identity_id, expires_at, used FROM magic_tokens WHERE token = $1 FOR UPDATE`, token)
		if err := row.Scan(&identityID, &expiresAt, &used); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if used {
			return ErrAlreadyUsed
		}
		if now.After(expiresAt) {
			return ErrExpired
		}
		_, err := tx.Exec(ctx, `UPDATE magic_tokens SET used = true WHERE token = $1`, token)
		return err
	})
	if err != nil {
		return "", err
	}
	return identityID, nil
}

// PurgeExpired deletes tokens past expiry or already consumed. Used rows are
// kept for one expiry window as an audit trail, then dropped here.
func (s *PGStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM magic_tokens WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PGStore)(nil)

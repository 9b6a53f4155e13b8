package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations against the identity store.
type Repository interface {
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	UpdateStamp(ctx context.Context, id, stamp string) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const identityColumns = `id, email, password_hash, role, security_stamp, deleted_at, created_at, updated_at`

func (r *PGRepository) scanIdentity(row pgx.Row) (*Identity, error) {
	var (
		ident   Identity
		role    string
		deleted *time.Time
	)
	if err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &role, &ident.SecurityStamp, &deleted, &ident.CreatedAt, &ident.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	parsed, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	ident.Role = parsed
	ident.DeletedAt = deleted
	return &ident, nil
}

// Find fetches an identity by its opaque id.
func (r *PGRepository) Find(ctx context.Context, id string) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return r.scanIdentity(row)
}

// FindByEmail fetches an identity by login email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return r.scanIdentity(row)
}

// UpdateStamp replaces the security stamp. The single UPDATE is the atomic
// write the registry's rotate contract relies on.
func (r *PGRepository) UpdateStamp(ctx context.Context, id, stamp string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE identities SET security_stamp = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id, stamp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)

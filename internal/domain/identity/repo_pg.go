package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smartrx/smartrx/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, email, password_hash, full_name, phone, roles, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Phone, &u.Roles,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO app_user (email, password_hash, full_name, phone, roles, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		u.Email, u.PasswordHash, u.FullName, u.Phone, u.Roles, u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM app_user WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM app_user WHERE lower(email) = lower($1)`, email))
}

func (r *userRepoPG) AddRole(ctx context.Context, id int64, role string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE app_user
		SET roles = CASE WHEN $2 = ANY(roles) THEN roles ELSE array_append(roles, $2) END,
			updated_at = now()
		WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// -- Refresh Token Repository --

type refreshTokenRepoPG struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepo(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepoPG{pool: pool}
}

func (r *refreshTokenRepoPG) Create(ctx context.Context, t *RefreshToken) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO refresh_token (id, user_id, family_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		t.ID, t.UserID, t.FamilyID, t.TokenHash, t.ExpiresAt,
	).Scan(&t.CreatedAt)
}

func (r *refreshTokenRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*RefreshToken, error) {
	var t RefreshToken
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, user_id, family_id, token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM refresh_token WHERE id = $1 FOR UPDATE`, id,
	).Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedBy, &t.CreatedAt)
	if err != nil {
		return nil, db.NotFoundIfNoRows(err)
	}
	return &t, nil
}

func (r *refreshTokenRepoPG) MarkRotated(ctx context.Context, id, replacedBy uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_token SET revoked_at = now(), replaced_by = $2
		WHERE id = $1 AND revoked_at IS NULL`, id, replacedBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *refreshTokenRepoPG) RevokeFamily(ctx context.Context, familyID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE refresh_token SET revoked_at = now()
		WHERE family_id = $1 AND revoked_at IS NULL`, familyID)
	return err
}

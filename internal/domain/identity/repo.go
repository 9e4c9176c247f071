package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	AddRole(ctx context.Context, id int64, role string) error
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	// GetForUpdate locks the row when called inside a transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*RefreshToken, error)
	MarkRotated(ctx context.Context, id, replacedBy uuid.UUID) error
	RevokeFamily(ctx context.Context, familyID uuid.UUID) error
}

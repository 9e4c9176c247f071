package identity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// User maps to the app_user table.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        *string   `db:"phone" json:"phone,omitempty"`
	Roles        []string  `db:"roles" json:"roles"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// RefreshToken maps to the refresh_token table. Only a SHA-256 hash of the
// secret half is stored. Tokens rotated from one login share a FamilyID.
type RefreshToken struct {
	ID         uuid.UUID  `db:"id"`
	UserID     int64      `db:"user_id"`
	FamilyID   uuid.UUID  `db:"family_id"`
	TokenHash  string     `db:"token_hash"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
	ReplacedBy *uuid.UUID `db:"replaced_by"`
	CreatedAt  time.Time  `db:"created_at"`
}

func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             *User     `json:"user"`
}

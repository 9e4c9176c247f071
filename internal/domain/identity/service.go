package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartrx/smartrx/internal/platform/apierror"
	"github.com/smartrx/smartrx/internal/platform/auth"
	"github.com/smartrx/smartrx/internal/platform/db"
)

const minPasswordLength = 8

var errInvalidCredentials = apierror.Unauthorized("invalid email or password")

type Service struct {
	users      UserRepository
	tokens     RefreshTokenRepository
	tx         db.TxRunner
	hasher     *auth.PasswordHasher
	issuer     *auth.TokenIssuer
	refreshTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(
	users UserRepository,
	tokens RefreshTokenRepository,
	tx db.TxRunner,
	hasher *auth.PasswordHasher,
	issuer *auth.TokenIssuer,
	refreshTTL time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		users:      users,
		tokens:     tokens,
		tx:         tx,
		hasher:     hasher,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		logger:     logger.With().Str("component", "identity").Logger(),
		now:        time.Now,
	}
}

type RegisterInput struct {
	Email    string  `json:"email" validate:"required,email,max=254"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	FullName string  `json:"full_name" validate:"required,max=200"`
	Phone    *string `json:"phone,omitempty" validate:"omitempty,max=32"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, apierror.BadRequest("a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apierror.BadRequest("password must be at least %d characters", minPasswordLength)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apierror.BadRequest("full name is required")
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, apierror.BadRequest("%s", err.Error())
	}
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Phone:        in.Phone,
		Roles:        []string{auth.RolePatient},
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apierror.Conflict("email %s is already registered", email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Int64("user_id", u.ID).Msg("user registered")
	return u, nil
}

type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if db.IsNotFound(err) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		s.logger.Warn().Int64("user_id", u.ID).Msg("login failed: bad password")
		return nil, errInvalidCredentials
	}
	if !u.IsActive {
		return nil, apierror.Forbidden("account is disabled")
	}

	pair, err := s.issue(ctx, u, uuid.New())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", u.ID).Msg("user logged in")
	return pair, nil
}

// issue creates an access token and a refresh token in family.
func (s *Service) issue(ctx context.Context, u *User, family uuid.UUID) (*TokenPair, error) {
	access, exp, err := s.issuer.IssueAccessToken(u.ID, u.Roles)
	if err != nil {
		return nil, err
	}

	secret, err := newRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	rt := &RefreshToken{
		ID:        uuid.New(),
		UserID:    u.ID,
		FamilyID:  family,
		TokenHash: hashSecret(secret),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresAt:        exp,
		RefreshToken:     formatRefreshToken(rt.ID, secret),
		RefreshExpiresAt: rt.ExpiresAt,
		User:             u,
	}, nil
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated or revoked revokes every token in its family.
func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	id, secret, ok := parseRefreshToken(token)
	if !ok {
		return nil, apierror.Unauthorized("invalid refresh token")
	}

	var (
		pair   *TokenPair
		reused bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		stored, err := s.tokens.GetForUpdate(ctx, id)
		if db.IsNotFound(err) {
			return apierror.Unauthorized("invalid refresh token")
		}
		if err != nil {
			return fmt.Errorf("get refresh token: %w", err)
		}
		if !secretMatches(stored, secret) {
			return apierror.Unauthorized("invalid refresh token")
		}
		if stored.Revoked() {
			// Commit the family revocation, then report the failure.
			reused = true
			return s.tokens.RevokeFamily(ctx, stored.FamilyID)
		}
		if !s.now().Before(stored.ExpiresAt) {
			return apierror.Unauthorized("refresh token expired")
		}

		u, err := s.users.GetByID(ctx, stored.UserID)
		if err != nil {
			return fmt.Errorf("get user %d: %w", stored.UserID, err)
		}
		if !u.IsActive {
			return apierror.Forbidden("account is disabled")
		}

		pair, err = s.issue(ctx, u, stored.FamilyID)
		if err != nil {
			return err
		}
		next, _, _ := parseRefreshToken(pair.RefreshToken)
		return s.tokens.MarkRotated(ctx, stored.ID, next)
	})
	if err != nil {
		return nil, err
	}
	if reused {
		s.logger.Warn().Str("token_id", id.String()).Msg("refresh token reuse detected; family revoked")
		return nil, apierror.Unauthorized("refresh token has been revoked")
	}
	return pair, nil
}

// Logout revokes the token's whole family. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	id, secret, ok := parseRefreshToken(token)
	if !ok {
		return apierror.Unauthorized("invalid refresh token")
	}
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		stored, err := s.tokens.GetForUpdate(ctx, id)
		if db.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get refresh token: %w", err)
		}
		if !secretMatches(stored, secret) {
			return nil
		}
		if err := s.tokens.RevokeFamily(ctx, stored.FamilyID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		s.logger.Info().Int64("user_id", stored.UserID).Msg("user logged out")
		return nil
	})
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// GrantRole adds role to the user with email. Existing sessions keep their
// old roles until the next refresh.
func (s *Service) GrantRole(ctx context.Context, email, role string) (*User, error) {
	if role != auth.RolePatient && role != auth.RoleAdmin {
		return nil, apierror.BadRequest("unknown role %q", role)
	}
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if db.IsNotFound(err) {
		return nil, apierror.NotFound("user %s not found", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if err := s.users.AddRole(ctx, u.ID, role); err != nil {
		return nil, fmt.Errorf("grant role: %w", err)
	}
	if !u.HasRole(role) {
		u.Roles = append(u.Roles, role)
	}
	s.logger.Info().Int64("user_id", u.ID).Str("role", role).Msg("role granted")
	return u, nil
}

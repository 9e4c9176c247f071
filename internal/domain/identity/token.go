package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Opaque refresh tokens look like "<uuid>.<secret>". The uuid addresses the
// row and the secret is verified against its stored hash.

func newRefreshSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func formatRefreshToken(id uuid.UUID, secret string) string {
	return id.String() + "." + secret
}

func parseRefreshToken(token string) (uuid.UUID, string, bool) {
	idStr, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || secret == "" {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, secret, true
}

func secretMatches(stored *RefreshToken, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(hashSecret(secret))) == 1
}

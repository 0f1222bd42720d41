package jwt

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"expense_auth/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// NewToken mints a short-lived HS256 access token for the user.
func NewToken(user models.User, secret string, ttl time.Duration) (string, error) {
	const op = "jwt.NewToken"

	now := time.Now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ParseToken validates the signature and expiry of an access token and
// returns the user id it was minted for.
func ParseToken(tokenStr, secret string) (int64, error) {
	const op = "jwt.ParseToken"

	claims := jwt.MapClaims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: failed to parse token: %w", op, err)
	}

	if !parsed.Valid {
		return 0, fmt.Errorf("%s: invalid token", op)
	}

	subFloat, ok := claims["sub"].(float64)
	if !ok {
		return 0, fmt.Errorf("%s: missing sub claim", op)
	}

	return int64(subFloat), nil
}

// NewRefreshToken generates an opaque bearer credential: 32 random bytes,
// base64url-encoded, with no decodable structure.
func NewRefreshToken() (string, error) {
	const op = "jwt.NewRefreshToken"

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

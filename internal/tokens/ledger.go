// Package tokens manages the refresh-token ledger: issuance, validation,
// per-token revocation and O(1) mass invalidation through the owning user's
// token_version counter.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expense_auth/internal/lib/jwt"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"
)

var (
	ErrTokenRevoked = errors.New("refresh token revoked")
	ErrTokenExpired = errors.New("refresh token expired")
	ErrTokenStale   = errors.New("refresh token version is stale")
)

type Ledger struct {
	log        *slog.Logger
	tokenStore TokenStore
	refreshTTL time.Duration
}

type TokenStore interface {
	// SaveRefreshToken inserts a ledger row tagged with the owning user's
	// current token_version.
	SaveRefreshToken(ctx context.Context, rt models.RefreshToken) (models.RefreshToken, error)
	// RefreshTokenWithOwner resolves a raw token string to its row and the
	// owning user in one transactional read.
	RefreshTokenWithOwner(ctx context.Context, token string) (models.RefreshToken, models.User, error)
	RevokeRefreshToken(ctx context.Context, token, reason string) error
	BumpTokenVersion(ctx context.Context, userID int64) error
}

func New(log *slog.Logger, tokenStore TokenStore, refreshTTL time.Duration) *Ledger {
	return &Ledger{
		log:        log,
		tokenStore: tokenStore,
		refreshTTL: refreshTTL,
	}
}

// Issue creates a new refresh token for the user and stores it alongside the
// client metadata. The raw opaque token string is the second return value;
// it is what the client presents on later calls.
func (l *Ledger) Issue(
	ctx context.Context,
	user models.User,
	clientIP, userAgent string,
) (models.RefreshToken, string, error) {
	const op = "tokens.Issue"

	log := l.log.With(
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	raw, err := jwt.NewRefreshToken()
	if err != nil {
		log.Error("failed to generate refresh token", sl.Err(err))

		return models.RefreshToken{}, "", fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	rt, err := l.tokenStore.SaveRefreshToken(ctx, models.RefreshToken{
		UserID:    user.ID,
		Token:     raw,
		IssuedAt:  now,
		ExpiresAt: now.Add(l.refreshTTL),
		IPAddress: clientIP,
		UserAgent: userAgent,
	})
	if err != nil {
		log.Error("failed to save refresh token", sl.Err(err))

		return models.RefreshToken{}, "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh token issued", slog.Time("expires_at", rt.ExpiresAt))

	return rt, raw, nil
}

// Validate resolves a raw token string to its owning user. A token passes
// only if it is present, not revoked, not expired, and its recorded
// token_version still matches the user's current one.
func (l *Ledger) Validate(ctx context.Context, token string) (models.User, error) {
	const op = "tokens.Validate"

	log := l.log.With(slog.String("op", op))

	rt, user, err := l.tokenStore.RefreshTokenWithOwner(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")

			return models.User{}, storage.ErrTokenNotFound
		}

		log.Error("failed to get refresh token", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if rt.Revoked {
		log.Warn("refresh token is revoked", slog.Int64("uid", rt.UserID))

		return models.User{}, ErrTokenRevoked
	}

	if rt.IsExpired() {
		log.Warn("refresh token is expired", slog.Int64("uid", rt.UserID))

		return models.User{}, ErrTokenExpired
	}

	if rt.TokenVersion != user.TokenVersion {
		log.Warn("refresh token version is stale", slog.Int64("uid", rt.UserID))

		return models.User{}, ErrTokenStale
	}

	return user, nil
}

// Owner resolves the user a token was issued to, regardless of whether the
// token is still valid. Audit trails want the owner of expired and revoked
// tokens too; only a token with no ledger row at all is an error.
func (l *Ledger) Owner(ctx context.Context, token string) (models.User, error) {
	const op = "tokens.Owner"

	_, user, err := l.tokenStore.RefreshTokenWithOwner(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return models.User{}, storage.ErrTokenNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Revoke flags a token revoked with the given reason. Revoking an
// already-revoked token is a no-op; an unknown token is ErrTokenNotFound.
func (l *Ledger) Revoke(ctx context.Context, token, reason string) error {
	const op = "tokens.Revoke"

	log := l.log.With(slog.String("op", op))

	err := l.tokenStore.RevokeRefreshToken(ctx, token, reason)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")

			return storage.ErrTokenNotFound
		}

		log.Error("failed to revoke refresh token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh token revoked", slog.String("reason", reason))

	return nil
}

// RevokeAllForUser invalidates every outstanding token for the user by
// bumping their token_version. Existing rows are untouched; they fail the
// version check on the next Validate. Tokens issued afterwards pick up the
// new version and are unaffected.
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID int64) error {
	const op = "tokens.RevokeAllForUser"

	log := l.log.With(
		slog.String("op", op),
		slog.Int64("uid", userID),
	)

	if err := l.tokenStore.BumpTokenVersion(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")

			return storage.ErrUserNotFound
		}

		log.Error("failed to bump token version", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("all sessions revoked")

	return nil
}

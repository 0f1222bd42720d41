// Package logoutAll force-revokes every session a user holds. The caller
// authenticates with their access token; the ledger bumps the user's
// token_version so all outstanding refresh tokens fail the version check.
package logoutAll

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"expense_auth/internal/config"
	"expense_auth/internal/events"
	"expense_auth/internal/lib/api/request"
	resp "expense_auth/internal/lib/api/response"
	"expense_auth/internal/lib/jwt"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"
	"expense_auth/internal/tokens"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
}

func New(
	log *slog.Logger,
	ledger *tokens.Ledger,
	tokensCfg config.Tokens,
	publisher events.Publisher,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout_all.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		authHeader := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || bearer == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Missing bearer token"))

			return
		}

		userID, err := jwt.ParseToken(bearer, tokensCfg.SecretKey)
		if err != nil {
			log.Warn("invalid access token", sl.Err(err))

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Invalid access token"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := ledger.RevokeAllForUser(ctx, userID); err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Unknown user"))

				return
			}

			log.Error("failed to revoke sessions", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("all sessions revoked", slog.Int64("uid", userID))

		if err := publisher.Publish(ctx, models.SecurityEvent{
			Event:     events.SessionsRevoked,
			UserID:    userID,
			IPAddress: request.ClientIP(r),
			UserAgent: r.UserAgent(),
		}); err != nil {
			log.Error("Failed to publish security event", sl.Err(err))
		}

		render.JSON(w, r, Response{Response: resp.OK()})
	}
}

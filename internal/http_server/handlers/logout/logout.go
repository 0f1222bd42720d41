package logout

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"expense_auth/internal/events"
	"expense_auth/internal/lib/api/request"
	resp "expense_auth/internal/lib/api/response"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"
	"expense_auth/internal/tokens"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const logoutReason = "logout"

type Request struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type Response struct {
	resp.Response
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	ledger *tokens.Ledger,
	publisher events.Publisher,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logout.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// Identify the owner before revoking so the audit event carries the
		// user id even for tokens that are already expired or stale.
		var userID int64
		if owner, err := ledger.Owner(ctx, req.RefreshToken); err == nil {
			userID = owner.ID
		}

		if err := ledger.Revoke(ctx, req.RefreshToken, logoutReason); err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid refresh token"))

				return
			}

			log.Error("failed to revoke refresh token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("logout successful")

		if err := publisher.Publish(ctx, models.SecurityEvent{
			Event:     events.TokenRevoked,
			UserID:    userID,
			IPAddress: request.ClientIP(r),
			UserAgent: r.UserAgent(),
		}); err != nil {
			log.Error("Failed to publish security event", sl.Err(err))
		}

		render.JSON(w, r, Response{Response: resp.OK()})
	}
}

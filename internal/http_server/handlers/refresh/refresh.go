package refresh

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"expense_auth/internal/config"
	"expense_auth/internal/lib/api/request"
	resp "expense_auth/internal/lib/api/response"
	"expense_auth/internal/lib/jwt"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/storage"
	"expense_auth/internal/tokens"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// reason recorded on the old ledger row when a token is rotated.
const rotatedReason = "rotated"

type Request struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	ledger *tokens.Ledger,
	tokensCfg config.Tokens,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.refresh.New"

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

		user, err := ledger.Validate(ctx, req.RefreshToken)
		if err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid refresh token"))

				return
			}
			if errors.Is(err, tokens.ErrTokenRevoked) ||
				errors.Is(err, tokens.ErrTokenExpired) ||
				errors.Is(err, tokens.ErrTokenStale) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Refresh token is no longer valid"))

				return
			}

			log.Error("failed to validate refresh token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		if err := ledger.Revoke(ctx, req.RefreshToken, rotatedReason); err != nil {
			log.Error("failed to revoke rotated token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		_, newRefresh, err := ledger.Issue(ctx, user, request.ClientIP(r), r.UserAgent())
		if err != nil {
			log.Error("failed to issue refresh token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		accessToken, err := jwt.NewToken(user, tokensCfg.SecretKey, tokensCfg.AccessTokenTTL)
		if err != nil {
			log.Error("failed to generate access token", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("refresh successful", slog.Int64("uid", user.ID))

		ResponseOK(w, r, accessToken, newRefresh)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, accessToken, refreshToken string) {
	render.JSON(w, r, Response{
		Response:     resp.OK(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

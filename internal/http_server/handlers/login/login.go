package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"expense_auth/internal/auth"
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
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Username string `json:"username" validate:"required"`
	Pass     string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	ledger *tokens.Ledger,
	tokensCfg config.Tokens,
	publisher events.Publisher,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, err := authService.Login(ctx, req.Username, req.Pass)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) || errors.Is(err, auth.ErrInvalidCredentials) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid credentials"))

				return
			}
			if errors.Is(err, auth.ErrUserInactive) {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Account is inactive"))

				return
			}

			log.Error("failed to login user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		_, refreshToken, err := ledger.Issue(ctx, user, request.ClientIP(r), r.UserAgent())
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

		log.Info("User logged in successfully", slog.Int64("uid", user.ID))

		if err := publisher.Publish(ctx, models.SecurityEvent{
			Event:     events.UserLogin,
			UserID:    user.ID,
			IPAddress: request.ClientIP(r),
			UserAgent: r.UserAgent(),
		}); err != nil {
			log.Error("Failed to publish security event", sl.Err(err))
		}

		ResponseOK(w, r, accessToken, refreshToken)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, accessToken, refreshToken string) {
	render.JSON(w, r, Response{
		Response:     resp.OK(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

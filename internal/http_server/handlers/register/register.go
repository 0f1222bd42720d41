package register

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"expense_auth/internal/auth"
	"expense_auth/internal/events"
	"expense_auth/internal/lib/api/request"
	resp "expense_auth/internal/lib/api/response"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Username  string `json:"username" validate:"required,min=3,max=50"`
	Email     string `json:"email" validate:"required,email"`
	Pass      string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Response struct {
	resp.Response
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	publisher events.Publisher,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		user, err := authService.RegisterNewUser(ctx, req.Username, req.Email, req.Pass, req.FirstName, req.LastName)
		if err != nil {
			if errors.Is(err, storage.ErrUserExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("Username or email already registered"))

				return
			}

			log.Error("failed to register user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("User registered", slog.Int64("id", user.ID))

		if err := publisher.Publish(ctx, models.SecurityEvent{
			Event:     events.UserRegistered,
			UserID:    user.ID,
			IPAddress: request.ClientIP(r),
			UserAgent: r.UserAgent(),
		}); err != nil {
			log.Error("Failed to publish security event", sl.Err(err))
		}

		ResponseOK(w, r, user)
	}
}

func ResponseOK(w http.ResponseWriter, r *http.Request, user models.User) {
	render.JSON(w, r, Response{
		Response: resp.OK(),
		UserID:   user.ID,
		Username: user.Username,
	})
}

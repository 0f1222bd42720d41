package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"expense_auth/internal/lib/hasher"
	sl "expense_auth/internal/lib/logger"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user is inactive")
)

type Auth struct {
	log        *slog.Logger
	usrStore   UserStore
	validate   *validator.Validate
	bcryptCost int
}

type UserStore interface {
	SaveUser(ctx context.Context, user models.User) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
}

func New(log *slog.Logger, userStore UserStore, bcryptCost int) *Auth {
	return &Auth{
		log:        log,
		usrStore:   userStore,
		validate:   validator.New(),
		bcryptCost: bcryptCost,
	}
}

type registration struct {
	Username string `validate:"required,min=3,max=50"`
	Email    string `validate:"required,email,max=100"`
	Password string `validate:"required,min=8"`
}

// RegisterNewUser creates an account with a hashed password. Usernames and
// emails are matched exactly (case-sensitive); a clash on either yields
// storage.ErrUserExists.
func (a *Auth) RegisterNewUser(
	ctx context.Context,
	username, email, password string,
	firstName, lastName string,
) (models.User, error) {
	const op = "auth.RegisterNewUser"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)

	log.Info("registering new user")

	reg := registration{Username: username, Email: email, Password: password}
	if err := a.validate.Struct(reg); err != nil {
		log.Warn("invalid registration input", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := hasher.Hash(password, a.bcryptCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.usrStore.SaveUser(ctx, models.User{
		Username:     username,
		Email:        email,
		PassHash:     passHash,
		FirstName:    firstName,
		LastName:     lastName,
		IsActive:     true,
		TokenVersion: 0,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("username or email already taken")

			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("uid", user.ID))

	return user, nil
}

// Login checks a username/password pair and stamps last_login on success.
// It does not issue tokens; that is the ledger's job.
func (a *Auth) Login(ctx context.Context, username, password string) (models.User, error) {
	const op = "auth.Login"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)

	user, err := a.usrStore.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")

			return models.User{}, storage.ErrUserNotFound
		}

		log.Error("failed to get user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if !hasher.Verify(password, user.PassHash) {
		log.Info("invalid credentials")

		return models.User{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		log.Warn("inactive user attempted login")

		return models.User{}, ErrUserInactive
	}

	now := time.Now()
	if err := a.usrStore.UpdateLastLogin(ctx, user.ID, now); err != nil {
		log.Error("failed to update last login", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	user.LastLogin = &now

	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return user, nil
}

// UserByUsername returns nil without error when no such user exists.
func (a *Auth) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "auth.UserByUsername"

	user, err := a.usrStore.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

// UserByID returns nil without error when no such user exists.
func (a *Auth) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "auth.UserByID"

	user, err := a.usrStore.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

package login_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"expense_auth/internal/auth"
	"expense_auth/internal/config"
	"expense_auth/internal/http_server/handlers/login"
	"expense_auth/internal/lib/hasher"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"
	"expense_auth/internal/tokens"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore backs both the auth service and the ledger in handler tests.
type memStore struct {
	mu        sync.Mutex
	users     map[int64]models.User
	tokenRows map[string]models.RefreshToken
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[int64]models.User),
		tokenRows: make(map[string]models.RefreshToken),
	}
}

func (s *memStore) SaveUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username || u.Email == user.Email {
			return models.User{}, storage.ErrUserExists
		}
	}
	s.nextID++
	user.ID = s.nextID
	s.users[user.ID] = user
	return user, nil
}

func (s *memStore) UserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (s *memStore) UserByID(_ context.Context, id int64) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (s *memStore) UpdateLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.LastLogin = &at
	s.users[userID] = u
	return nil
}

func (s *memStore) SaveRefreshToken(_ context.Context, rt models.RefreshToken) (models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[rt.UserID]
	if !ok {
		return models.RefreshToken{}, storage.ErrUserNotFound
	}
	s.nextID++
	rt.ID = s.nextID
	rt.TokenVersion = user.TokenVersion
	s.tokenRows[rt.Token] = rt
	return rt, nil
}

func (s *memStore) RefreshTokenWithOwner(_ context.Context, token string) (models.RefreshToken, models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokenRows[token]
	if !ok {
		return models.RefreshToken{}, models.User{}, storage.ErrTokenNotFound
	}
	return rt, s.users[rt.UserID], nil
}

func (s *memStore) RevokeRefreshToken(_ context.Context, token, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokenRows[token]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if !rt.Revoked {
		rt.Revoked = true
		rt.RevokedReason = reason
		s.tokenRows[token] = rt
	}
	return nil
}

func (s *memStore) BumpTokenVersion(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.TokenVersion++
	s.users[userID] = u
	return nil
}

type nopPublisher struct {
	published []models.SecurityEvent
}

func (p *nopPublisher) Publish(_ context.Context, ev models.SecurityEvent) error {
	p.published = append(p.published, ev)
	return nil
}

func testTokensCfg() config.Tokens {
	return config.Tokens{
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: time.Hour,
		SecretKey:       "test-secret-key-of-sufficient-length",
		BcryptCost:      hasher.DefaultCost,
	}
}

func TestLoginHandler(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	validate := validator.New()

	store := newMemStore()
	authService := auth.New(log, store, hasher.DefaultCost)
	ledger := tokens.New(log, store, time.Hour)
	publisher := &nopPublisher{}

	_, err := authService.RegisterNewUser(context.Background(), "alice", "a@x.com", "Secret123!", "", "")
	require.NoError(t, err)

	handler := login.New(log, validate, authService, ledger, testTokensCfg(), publisher)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"username":"alice","password":"Secret123!"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong password",
			body:       `{"username":"alice","password":"Wrong123!"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown user",
			body:       `{"username":"nobody","password":"Secret123!"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing password",
			body:       `{"username":"alice"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"username":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				var got login.Response
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.NotEmpty(t, got.AccessToken)
				assert.NotEmpty(t, got.RefreshToken)

				// the refresh token the client got must validate in the ledger
				user, err := ledger.Validate(req.Context(), got.RefreshToken)
				require.NoError(t, err)
				assert.Equal(t, "alice", user.Username)
			}
		})
	}
}

func TestLoginHandler_StripsPortFromClientIP(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemStore()
	authService := auth.New(log, store, hasher.DefaultCost)
	ledger := tokens.New(log, store, time.Hour)

	_, err := authService.RegisterNewUser(context.Background(), "alice", "a@x.com", "Secret123!", "", "")
	require.NoError(t, err)

	handler := login.New(log, validator.New(), authService, ledger, testTokensCfg(), &nopPublisher{})

	req := httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"username":"alice","password":"Secret123!"}`))
	req.RemoteAddr = "[2601:602:9700:4589:a1b2:c3d4:e5f6:1234]:54321"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got login.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))

	// the stored address must be portless and fit the 45-char column
	rt, _, err := store.RefreshTokenWithOwner(req.Context(), got.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "2601:602:9700:4589:a1b2:c3d4:e5f6:1234", rt.IPAddress)
	assert.LessOrEqual(t, len(rt.IPAddress), 45)
}

func TestLoginHandler_ConcurrentRequests(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemStore()
	authService := auth.New(log, store, hasher.DefaultCost)
	ledger := tokens.New(log, store, time.Hour)

	_, err := authService.RegisterNewUser(context.Background(), "alice", "a@x.com", "Secret123!", "", "")
	require.NoError(t, err)

	handler := login.New(log, validator.New(), authService, ledger, testTokensCfg(), &nopPublisher{})

	var wg sync.WaitGroup
	codes := make([]int, 8)

	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			req := httptest.NewRequest(http.MethodPost, "/login",
				bytes.NewBufferString(`{"username":"alice","password":"Secret123!"}`))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)
			codes[i] = rec.Code
		}(i)
	}

	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestLoginHandler_InactiveUser(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemStore()
	authService := auth.New(log, store, hasher.DefaultCost)
	ledger := tokens.New(log, store, time.Hour)

	user, err := authService.RegisterNewUser(context.Background(), "bob", "b@x.com", "Secret123!", "", "")
	require.NoError(t, err)

	u := store.users[user.ID]
	u.IsActive = false
	store.users[user.ID] = u

	handler := login.New(log, validator.New(), authService, ledger, testTokensCfg(), &nopPublisher{})

	req := httptest.NewRequest(http.MethodPost, "/login",
		bytes.NewBufferString(`{"username":"bob","password":"Secret123!"}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

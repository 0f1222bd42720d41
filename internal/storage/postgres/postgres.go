package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"expense_auth/internal/config"
	"expense_auth/internal/models"
	"expense_auth/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) SaveUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (username, email, password_hash, first_name, last_name, is_active, token_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at;
	`

	err := r.pool.QueryRow(ctx, query,
		user.Username,
		user.Email,
		user.PassHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.TokenVersion,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return user, nil
}

const userColumns = `
	u.id, u.username, u.email, u.password_hash, u.first_name, u.last_name,
	u.is_active, u.token_version, u.last_login, u.created_at, u.updated_at
`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PassHash,
		&u.FirstName,
		&u.LastName,
		&u.IsActive,
		&u.TokenVersion,
		&u.LastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *PostgresRepo) UserByUsername(ctx context.Context, username string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.username = $1;`

	return scanUser(r.pool.QueryRow(ctx, query, username))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1;`

	return scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepo) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	const op = "storage.postgres.UpdateLastLogin"

	query := `UPDATE users SET last_login = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// SaveRefreshToken inserts a ledger row. The token_version is read from the
// owning user inside the same statement so the recorded version can never
// lag behind a concurrent mass revocation.
func (r *PostgresRepo) SaveRefreshToken(ctx context.Context, rt models.RefreshToken) (models.RefreshToken, error) {
	const op = "storage.postgres.SaveRefreshToken"

	query := `
		INSERT INTO refresh_tokens (user_id, token, token_version, issued_at, expires_at, ip_address, user_agent)
		SELECT u.id, $2, u.token_version, $3, $4, $5, $6
		FROM users u
		WHERE u.id = $1
		RETURNING id, token_version;
	`

	err := r.pool.QueryRow(ctx, query,
		rt.UserID,
		rt.Token,
		rt.IssuedAt,
		rt.ExpiresAt,
		rt.IPAddress,
		rt.UserAgent,
	).Scan(&rt.ID, &rt.TokenVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, storage.ErrUserNotFound
		}

		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return rt, nil
}

func (r *PostgresRepo) RefreshTokenWithOwner(ctx context.Context, token string) (models.RefreshToken, models.User, error) {
	const op = "storage.postgres.RefreshTokenWithOwner"

	query := `
		SELECT
			rt.id, rt.user_id, rt.token, rt.token_version, rt.issued_at, rt.expires_at,
			rt.revoked, COALESCE(rt.revoked_reason, ''), rt.ip_address, rt.user_agent,
			` + userColumns + `
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token = $1;
	`

	var (
		rt models.RefreshToken
		u  models.User
	)

	err := r.pool.QueryRow(ctx, query, token).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.TokenVersion,
		&rt.IssuedAt,
		&rt.ExpiresAt,
		&rt.Revoked,
		&rt.RevokedReason,
		&rt.IPAddress,
		&rt.UserAgent,
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PassHash,
		&u.FirstName,
		&u.LastName,
		&u.IsActive,
		&u.TokenVersion,
		&u.LastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, models.User{}, storage.ErrTokenNotFound
		}

		return models.RefreshToken{}, models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return rt, u, nil
}

// RevokeRefreshToken flags a token revoked. A second revocation of the same
// token leaves the original reason in place and reports success.
func (r *PostgresRepo) RevokeRefreshToken(ctx context.Context, token, reason string) error {
	const op = "storage.postgres.RevokeRefreshToken"

	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_reason = $2
		WHERE token = $1 AND NOT revoked
	`

	tag, err := r.pool.Exec(ctx, query, token, reason)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token = $1)`, token,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return storage.ErrTokenNotFound
	}

	return nil
}

func (r *PostgresRepo) BumpTokenVersion(ctx context.Context, userID int64) error {
	const op = "storage.postgres.BumpTokenVersion"

	query := `UPDATE users SET token_version = token_version + 1, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// migrate applies the embedded schema migrations over a temporary
// database/sql handle; the pgx pool is opened afterwards.
func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.Up(db, "migrations")
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}

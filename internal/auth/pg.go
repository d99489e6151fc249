package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGService implements Service on PostgreSQL.
type PGService struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGService creates an identity service sharing an existing pool.
func NewPGService(pool *pgxpool.Pool, logger *slog.Logger) *PGService {
	return &PGService{pool: pool, logger: logger}
}

// RunMigrations creates the principals table.
func (s *PGService) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS auth_users (
			uid VARCHAR(64) PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			email_verified BOOLEAN NOT NULL DEFAULT FALSE,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			claims JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_users_email ON auth_users(email)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing auth migration: %w", err)
		}
	}

	s.logger.Info("auth migrations completed")
	return nil
}

// GetByEmail implements Service.
func (s *PGService) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT uid, email, email_verified, disabled, claims, created_at
		FROM auth_users
		WHERE email = $1
	`
	user, err := s.scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting auth user: %w", err)
	}
	return user, nil
}

// Delete implements Service.
func (s *PGService) Delete(ctx context.Context, uid string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM auth_users WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("deleting auth user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetClaims implements Service.
func (s *PGService) SetClaims(ctx context.Context, uid string, claims map[string]interface{}) error {
	raw, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("marshaling claims: %w", err)
	}
	result, err := s.pool.Exec(ctx, `UPDATE auth_users SET claims = $2 WHERE uid = $1`, uid, raw)
	if err != nil {
		return fmt.Errorf("setting claims: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// List implements Service.
func (s *PGService) List(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}
	query := `
		SELECT uid, email, email_verified, disabled, claims, created_at
		FROM auth_users
		WHERE uid > $1
		ORDER BY uid
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, pageToken, pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing auth users: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auth user: %w", err)
		}
		page.Users = append(page.Users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Users) == pageSize {
		page.NextToken = page.Users[len(page.Users)-1].UID
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PGService) scanUser(row rowScanner) (*User, error) {
	var user User
	var claims []byte
	var createdAt time.Time
	err := row.Scan(&user.UID, &user.Email, &user.EmailVerified, &user.Disabled, &claims, &createdAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = createdAt
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &user.Claims); err != nil {
			return nil, fmt.Errorf("decoding claims: %w", err)
		}
	}
	return &user, nil
}

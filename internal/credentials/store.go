// Package credentials resolves API keys to users and rotates them.
package credentials

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"pdfapi/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is the credential store contract used by the auth middleware and the
// key issuance handler.
type Store interface {
	// Lookup returns the credential owning apiKey, domain.ErrCredentialNotFound
	// when there is none, or a wrapped storage error.
	Lookup(ctx context.Context, apiKey string) (*domain.Credential, error)
	// RotateKey replaces the key of cred.ID with newKey in one statement.
	RotateKey(ctx context.Context, cred domain.Credential, newKey string) error
}

// PostgresStore implements Store on the users table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open pool. The pool is shared and safe for concurrent use.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, apiKey string) (*domain.Credential, error) {
	cred := &domain.Credential{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_key FROM users WHERE api_key = $1`, apiKey,
	).Scan(&cred.ID, &cred.APIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("%w: lookup api key: %w", domain.ErrInternal, err)
	}
	return cred, nil
}

func (s *PostgresStore) RotateKey(ctx context.Context, cred domain.Credential, newKey string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET api_key = $1 WHERE id = $2`, newKey, cred.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: rotate api key: %w", domain.ErrInternal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rotate api key: %w", domain.ErrInternal, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d: %w", domain.ErrInternal, cred.ID, domain.ErrCredentialNotFound)
	}
	return nil
}

// Create inserts a new user holding apiKey. Used by the admin command; the
// service itself never creates users.
func (s *PostgresStore) Create(ctx context.Context, apiKey string) (*domain.Credential, error) {
	cred := &domain.Credential{APIKey: apiKey}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (api_key) VALUES ($1) RETURNING id`, apiKey,
	).Scan(&cred.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: create user: %w", domain.ErrInternal, err)
	}
	return cred, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

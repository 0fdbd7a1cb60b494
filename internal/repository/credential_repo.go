package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-auth-tokens/internal/model"
)

const credentialColumns = `username, password_hash, password_salt, role,
		refresh_token, refresh_token_created, refresh_token_expires, created_at, updated_at`

// CredentialRepository stores credential records in PostgreSQL.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) Get(ctx context.Context, username string) (model.Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM credentials WHERE lower(username) = lower($1)`, strings.TrimSpace(username))

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Credential{}, model.ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("find credential by username: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepository) FindByRefreshToken(ctx context.Context, token string) (model.Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+`
		 FROM credentials WHERE refresh_token = $1`, token)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Credential{}, model.ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("find credential by refresh token: %w", err)
	}
	return cred, nil
}

func (r *CredentialRepository) Create(ctx context.Context, c model.Credential) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO credentials (username, password_hash, password_salt, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT DO NOTHING`,
		c.Username, c.PasswordHash, c.PasswordSalt, c.Role, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadyExists
	}
	return nil
}

// Save inserts or replaces the record. Replacing clears any live refresh token.
func (r *CredentialRepository) Save(ctx context.Context, c model.Credential) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save credential: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM credentials WHERE lower(username) = lower($1)`, c.Username); err != nil {
		return fmt.Errorf("replace credential: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credentials (username, password_hash, password_salt, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.Username, c.PasswordHash, c.PasswordSalt, c.Role, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save credential: %w", err)
	}
	return nil
}

func (r *CredentialRepository) SetRefreshToken(ctx context.Context, username string, rt model.RefreshToken) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials
		 SET refresh_token = $2, refresh_token_created = $3, refresh_token_expires = $4, updated_at = $5
		 WHERE lower(username) = lower($1)`,
		username, nullableToken(rt.Token), nullableTime(rt.Created), nullableTime(rt.Expires), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RotateRefreshToken replaces the live refresh token only while it still
// equals presented. The check and the write are one statement.
func (r *CredentialRepository) RotateRefreshToken(ctx context.Context, username string, presented string, next model.RefreshToken) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE credentials
		 SET refresh_token = $3, refresh_token_created = $4, refresh_token_expires = $5, updated_at = $6
		 WHERE lower(username) = lower($1) AND refresh_token = $2`,
		username, presented, nullableToken(next.Token), nullableTime(next.Created), nullableTime(next.Expires), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrRefreshTokenStale
	}
	return nil
}

func (r *CredentialRepository) Delete(ctx context.Context, username string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE lower(username) = lower($1)`, username)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *CredentialRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

func scanCredential(row pgx.Row) (model.Credential, error) {
	var (
		c       model.Credential
		token   *string
		created *time.Time
		expires *time.Time
	)

	err := row.Scan(&c.Username, &c.PasswordHash, &c.PasswordSalt, &c.Role,
		&token, &created, &expires, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Credential{}, err
	}

	if token != nil {
		c.RefreshToken = *token
	}
	if created != nil {
		c.RefreshTokenCreated = created.UTC()
	}
	if expires != nil {
		c.RefreshTokenExpires = expires.UTC()
	}
	return c, nil
}

func nullableToken(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

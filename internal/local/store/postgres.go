package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"authcore/pkg/sentinel"
)

// PostgresUserStore persists users, their client links and federated
// identities in PostgreSQL.
type PostgresUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Schema creates the tables the store needs. Intended for tests and fresh
// deployments; production migrations live with the integrator.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	client_ids    TEXT[] NOT NULL DEFAULT '{}',
	claims        JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS user_identities (
	provider TEXT NOT NULL,
	subject  TEXT NOT NULL,
	user_id  TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (provider, subject)
);
CREATE TABLE IF NOT EXISTS clients (
	id          TEXT PRIMARY KEY,
	secret_hash TEXT NOT NULL DEFAULT '',
	scopes      TEXT[] NOT NULL DEFAULT '{}',
	audiences   TEXT[] NOT NULL DEFAULT '{}'
);
`

func (s *PostgresUserStore) CreateUser(ctx context.Context, user *User) error {
	claims, err := json.Marshal(user.Claims)
	if err != nil {
		return fmt.Errorf("marshal user claims: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, client_ids, claims)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.PasswordHash, pq.Array(user.ClientIDs), claims)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) scanUser(row *sql.Row) (*User, error) {
	var user User
	var claims []byte
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, pq.Array(&user.ClientIDs), &claims)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal(claims, &user.Claims); err != nil {
		return nil, fmt.Errorf("unmarshal user claims: %w", err)
	}
	return &user, nil
}

func (s *PostgresUserStore) UserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, client_ids, claims FROM users WHERE id = $1
	`, id))
}

func (s *PostgresUserStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, client_ids, claims FROM users WHERE username = $1
	`, username))
}

func (s *PostgresUserStore) UserByIdentity(ctx context.Context, provider, subject string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.client_ids, u.claims
		FROM users u JOIN user_identities i ON i.user_id = u.id
		WHERE i.provider = $1 AND i.subject = $2
	`, provider, subject))
}

func (s *PostgresUserStore) LinkIdentity(ctx context.Context, provider, subject, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_identities (provider, subject, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, subject) DO UPDATE SET user_id = EXCLUDED.user_id
	`, provider, subject, userID)
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

// PostgresClientStore persists registered clients in PostgreSQL.
type PostgresClientStore struct {
	db *sql.DB
}

func NewPostgresClientStore(db *sql.DB) *PostgresClientStore {
	return &PostgresClientStore{db: db}
}

func (s *PostgresClientStore) CreateClient(ctx context.Context, client *Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, secret_hash, scopes, audiences)
		VALUES ($1, $2, $3, $4)
	`, client.ID, client.SecretHash, pq.Array(client.Scopes), pq.Array(client.Audiences))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create client: %w", err)
	}
	return nil
}

func (s *PostgresClientStore) ClientByID(ctx context.Context, id string) (*Client, error) {
	var client Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, secret_hash, scopes, audiences FROM clients WHERE id = $1
	`, id).Scan(&client.ID, &client.SecretHash, pq.Array(&client.Scopes), pq.Array(&client.Audiences))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &client, nil
}

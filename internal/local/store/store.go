// Package store defines the persistence contracts of the built-in strategy
// and its in-memory, redis and postgres implementations.
package store

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks UserStore,ClientStore,TokenStore

import (
	"context"
	"time"
)

// User is an end user record. Claims hold the identity fields (email, name,
// picture) exposed through id_tokens and userinfo, keyed by claim name.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	ClientIDs    []string
	Claims       map[string]any
}

// Client is a registered OAuth2 client and its allow-lists.
type Client struct {
	ID         string
	SecretHash string
	Scopes     []string
	Audiences  []string
}

// UserStore persists users and their federated identity links.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	UserByID(ctx context.Context, id string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	// UserByIdentity resolves the user linked to a federated identity.
	UserByIdentity(ctx context.Context, provider, subject string) (*User, error)
	LinkIdentity(ctx context.Context, provider, subject, userID string) error
}

// ClientStore persists registered clients.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	ClientByID(ctx context.Context, id string) (*Client, error)
}

// TokenStore persists the claims behind opaque tokens (authorization codes
// and refresh tokens). A zero ttl means the entry never expires.
type TokenStore interface {
	Save(ctx context.Context, token string, claims map[string]any, ttl time.Duration) error
	// Claims resolves a token without consuming it.
	Claims(ctx context.Context, token string) (map[string]any, error)
	// Redeem resolves a token and deletes it atomically; a second redemption
	// fails. Authorization codes are single use.
	Redeem(ctx context.Context, token string) (map[string]any, error)
}

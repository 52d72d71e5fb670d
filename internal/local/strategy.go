// Package local ships the built-in strategy: users and clients in a pluggable
// store, HS256 JWTs for access and id tokens, opaque single-use codes and
// refresh tokens persisted server-side. It implements every capability, so it
// satisfies all three modes and doubles as the reference integration.
package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/internal/local/store"
	"authcore/internal/strategy"
	"authcore/pkg/oauth2err"
	"authcore/pkg/sentinel"
)

// Strategy is the built-in strategy implementation.
type Strategy struct {
	name       string
	cfg        *strategy.Config
	signingKey []byte
	users      store.UserStore
	clients    store.ClientStore
	tokens     store.TokenStore
	now        func() time.Time
}

// New assembles the built-in strategy. cfg must already be validated.
func New(name string, cfg *strategy.Config, signingKey []byte, users store.UserStore, clients store.ClientStore, tokens store.TokenStore) *Strategy {
	return &Strategy{
		name:       name,
		cfg:        cfg,
		signingKey: signingKey,
		users:      users,
		clients:    clients,
		tokens:     tokens,
		now:        time.Now,
	}
}

func (s *Strategy) Name() string             { return s.name }
func (s *Strategy) Config() *strategy.Config { return s.cfg }

// HashSecret hashes a password or client secret for storage.
func HashSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// claimSeconds reads a Unix-epoch claim that may have survived a JSON round
// trip as a float.
func claimSeconds(c claims.Claims, name string) (int64, bool) {
	switch v := c[name].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// GenerateToken mints the requested kind. Access and id tokens are HS256 JWTs
// carrying the claim set verbatim; codes and refresh tokens are opaque values
// whose claims live in the token store until redeemed or expired.
func (s *Strategy) GenerateToken(ctx context.Context, in events.Input) (*events.TokenResult, error) {
	var expiresIn int64
	if exp, ok := claimSeconds(in.Claims, "exp"); ok {
		if iat, ok := claimSeconds(in.Claims, "iat"); ok {
			expiresIn = exp - iat
		} else {
			expiresIn = exp - s.now().Unix()
		}
	}

	switch in.Type {
	case events.KindAccessToken, events.KindIDToken:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(in.Claims))
		signed, err := token.SignedString(s.signingKey)
		if err != nil {
			return nil, oauth2err.Wrap(err, "Failed to sign "+in.Type)
		}
		return &events.TokenResult{Token: signed, ExpiresIn: expiresIn}, nil

	case events.KindCode, events.KindRefreshToken:
		opaque := uuid.NewString()
		var ttl time.Duration
		if exp, ok := claimSeconds(in.Claims, "exp"); ok {
			ttl = time.Duration(exp-s.now().Unix()) * time.Second
		}
		if err := s.tokens.Save(ctx, opaque, in.Claims, ttl); err != nil {
			return nil, oauth2err.Wrap(err, "Failed to persist "+in.Type)
		}
		return &events.TokenResult{Token: opaque, ExpiresIn: expiresIn}, nil

	default:
		return nil, oauth2err.Newf(oauth2err.InvalidRequest, "Unsupported token type '%s'.", in.Type)
	}
}

// GetTokenClaims resolves a raw token back to its claims. A token that does
// not resolve yields nil claims without an error; callers decide how loudly
// to fail. Codes are consumed on resolution.
func (s *Strategy) GetTokenClaims(ctx context.Context, in events.Input) (claims.Claims, error) {
	switch in.Type {
	case events.KindCode:
		return s.storedClaims(s.tokens.Redeem(ctx, in.Token))
	case events.KindRefreshToken:
		return s.storedClaims(s.tokens.Claims(ctx, in.Token))
	case events.KindAccessToken, events.KindIDToken:
		return s.jwtClaims(in.Token)
	default:
		return nil, oauth2err.Newf(oauth2err.InvalidRequest, "Unsupported token type '%s'.", in.Type)
	}
}

func (s *Strategy) storedClaims(raw map[string]any, err error) (claims.Claims, error) {
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, sentinel.ErrExpired) {
			return nil, oauth2err.New(oauth2err.InvalidToken, "Token or code has expired")
		}
		return nil, oauth2err.Wrap(err, "Failed to resolve token")
	}
	return claims.Claims(raw), nil
}

// jwtClaims verifies the signature only; expiry stays in the claims so flows
// apply their own policy (introspection degrades, userinfo fails hard).
func (s *Strategy) jwtClaims(raw string) (claims.Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	token, err := parser.Parse(raw, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, nil
	}
	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil
	}
	return claims.Claims(mapClaims), nil
}

// ProcessEndUser verifies a username/password pair against the user store.
func (s *Strategy) ProcessEndUser(ctx context.Context, in events.Input) (*events.User, error) {
	username, _ := in.User["username"].(string)
	password, _ := in.User["password"].(string)

	user, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, oauth2err.New(oauth2err.InvalidCredentials, "Incorrect username or password")
		}
		return nil, oauth2err.Wrap(err, "Failed to look up user")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, oauth2err.New(oauth2err.InvalidCredentials, "Incorrect username or password")
	}
	return &events.User{ID: user.ID, ClientIDs: user.ClientIDs, Claims: claims.Claims(user.Claims)}, nil
}

// GetServiceAccount resolves the client record, authenticating the client
// when a secret is supplied.
func (s *Strategy) GetServiceAccount(ctx context.Context, in events.Input) (*events.ServiceAccount, error) {
	client, err := s.clients.ClientByID(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, oauth2err.New(oauth2err.InvalidClient, "Invalid client_id")
		}
		return nil, oauth2err.Wrap(err, "Failed to look up client")
	}
	if in.ClientSecret != "" {
		if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(in.ClientSecret)) != nil {
			return nil, oauth2err.New(oauth2err.InvalidClient, "Invalid client_id or client_secret")
		}
	}
	return &events.ServiceAccount{Scopes: client.Scopes, Audiences: client.Audiences}, nil
}

// scopeFields maps the standard OIDC scopes to the profile fields they
// entitle a client to.
var scopeFields = map[string][]string{
	"profile": {
		"name", "given_name", "family_name", "middle_name", "nickname",
		"preferred_username", "picture", "website", "gender", "birthdate",
		"zoneinfo", "locale", "updated_at",
	},
	"email":   {"email", "email_verified"},
	"address": {"address"},
	"phone":   {"phone_number", "phone_number_verified"},
}

// GetIdentityClaims returns the slice of the user's profile the scopes
// entitle the client to. The user's client binding is enforced here, so the
// result never needs to expose the link list itself.
func (s *Strategy) GetIdentityClaims(ctx context.Context, in events.Input) (claims.Claims, error) {
	user, err := s.users.UserByID(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, oauth2err.New(oauth2err.InvalidUser, "Invalid user_id")
		}
		return nil, oauth2err.Wrap(err, "Failed to look up user")
	}
	if in.ClientID != "" {
		if err := claims.VerifyClientID(in.ClientID, user.ID, user.ClientIDs); err != nil {
			return nil, err
		}
	}

	allowed := map[string]struct{}{}
	for _, scope := range in.Scopes {
		for _, field := range scopeFields[scope] {
			allowed[field] = struct{}{}
		}
	}

	out := claims.Claims{"sub": user.ID}
	for k, v := range user.Claims {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// ProcessFIPUser resolves a federated identity to an internal user, signing
// the user up on first login through the provider.
func (s *Strategy) ProcessFIPUser(ctx context.Context, in events.Input) (*events.User, error) {
	subject := stringify(in.User["id"])
	if subject == "" {
		return nil, oauth2err.Newf(oauth2err.InternalServer,
			"The %s identity provider did not return an 'id' for the user.", in.Provider)
	}

	user, err := s.users.UserByIdentity(ctx, in.Provider, subject)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		user = &store.User{
			ID:        uuid.NewString(),
			ClientIDs: []string{in.ClientID},
			Claims:    profileOf(in.User),
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, oauth2err.Wrap(err, "Failed to sign up "+in.Provider+" user")
		}
		if err := s.users.LinkIdentity(ctx, in.Provider, subject, user.ID); err != nil {
			return nil, oauth2err.Wrap(err, "Failed to link "+in.Provider+" identity")
		}
	case err != nil:
		return nil, oauth2err.Wrap(err, "Failed to look up "+in.Provider+" user")
	}

	return &events.User{ID: user.ID, ClientIDs: user.ClientIDs, Claims: claims.Claims(user.Claims)}, nil
}

// profileOf keeps the provider's profile fields, dropping its native id.
func profileOf(fipUser map[string]any) map[string]any {
	profile := make(map[string]any, len(fipUser))
	for k, v := range fipUser {
		if k == "id" {
			continue
		}
		profile[k] = v
	}
	return profile
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

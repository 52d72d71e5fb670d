// Package userinfo implements the OIDC userinfo endpoint. Unlike
// introspection it fails hard on a bad token: the endpoint is itself bearer
// gated, so there is nothing to hide from an unauthenticated caller.
package userinfo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// Service resolves userinfo requests through the event registry.
type Service struct {
	events *events.Registry
	logger *slog.Logger
}

func New(registry *events.Registry, logger *slog.Logger) *Service {
	return &Service{events: registry, logger: logger}
}

// Handle validates the bearer token from the Authorization header and returns
// the identity claims the token's scopes entitle the caller to, merged with
// active:true.
func (s *Service) Handle(ctx context.Context, authorization string) (claims.Claims, error) {
	const errorMsg = "Failed to get user info"

	for _, event := range []string{events.GetTokenClaims, events.GetIdentityClaims} {
		if !s.events.Has(event) {
			return nil, oauth2err.Newf(oauth2err.InternalServer, "%s. Missing '%s' handler.", errorMsg, event)
		}
	}

	token, err := bearerToken(authorization)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	tokenClaims, err := s.events.TokenClaimsResult(ctx, events.Input{Type: events.KindAccessToken, Token: token})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if tokenClaims == nil {
		return nil, oauth2err.New(oauth2err.InvalidToken, errorMsg+". Invalid access_token.")
	}
	if err := tokenClaims.Expired(time.Now()); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	scopes := tokenClaims.Scopes()
	identity, err := s.events.IdentityClaimsResult(ctx, events.Input{
		ClientID: tokenClaims.ClientID(),
		UserID:   tokenClaims.Subject(),
		Scopes:   scopes,
	})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	// The identity handler may rebind the user's clients; re-check the token's
	// client whenever the claim is present, whatever shape the handler's JSON
	// boundary gave it. The list never reaches the response.
	if _, ok := identity["client_ids"]; ok {
		clientIDs := identity.StringSlice("client_ids")
		delete(identity, "client_ids")
		if err := claims.VerifyClientID(tokenClaims.ClientID(), tokenClaims.Subject(), clientIDs); err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
	}

	out := make(claims.Claims, len(identity)+1)
	for k, v := range identity {
		out[k] = v
	}
	out["active"] = true

	if s.logger != nil {
		s.logger.InfoContext(ctx, "user info resolved",
			"client_id", tokenClaims.ClientID(),
			"sub", tokenClaims.Subject(),
		)
	}
	return out, nil
}

// bearerToken extracts the token from an 'Authorization: Bearer <token>'
// header, scheme matched case-insensitively.
func bearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", oauth2err.New(oauth2err.InvalidRequest, "Missing required 'Authorization' header.")
	}
	parts := strings.Fields(authorization)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", oauth2err.New(oauth2err.InvalidRequest, "The 'Authorization' header must use the 'Bearer' scheme.")
	}
	return parts[1], nil
}

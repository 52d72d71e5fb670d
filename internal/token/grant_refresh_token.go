package token

import (
	"context"
	"time"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// refreshTokenGrant mints a fresh access token from a refresh token. Requested
// scopes may only narrow the scopes the refresh token was minted with; an
// empty request inherits them all. No new refresh token is issued, the
// presented one stays valid until it expires or the integrator revokes it.
func refreshTokenGrant(ctx context.Context, reg *events.Registry, clientID, refreshToken string, scopes []string, state string) (*Response, error) {
	const errorMsg = "Failed to acquire tokens for grant_type 'refresh_token'"

	if err := requireHandlers(reg, errorMsg, events.GetServiceAccount, events.GetTokenClaims, events.GenerateToken); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'")
	}
	if refreshToken == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'refresh_token'")
	}

	tokenClaims, err := reg.TokenClaimsResult(ctx, events.Input{Type: events.KindRefreshToken, Token: refreshToken})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if tokenClaims == nil {
		return nil, oauth2err.New(oauth2err.InvalidToken, errorMsg+". Invalid refresh_token.")
	}
	// A refresh token without an exp claim never expires.
	if _, hasExp := tokenClaims["exp"]; hasExp {
		if err := tokenClaims.Expired(time.Now()); err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
	}
	if tokenClaims.ClientID() != clientID {
		return nil, oauth2err.Wrap(oauth2err.New(oauth2err.InvalidClient, "Invalid client_id"), errorMsg)
	}

	grantedScopes := tokenClaims.Scopes()
	effectiveScopes := grantedScopes
	if len(scopes) > 0 {
		if err := claims.VerifyScopes(scopes, grantedScopes); err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
		effectiveScopes = scopes
	}

	serviceAccount, err := reg.ServiceAccountResult(ctx, events.Input{ClientID: clientID})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	var audiences []string
	if serviceAccount != nil {
		audiences = serviceAccount.Audiences
	}

	return issueTokens(ctx, reg, errorMsg, clientID, tokenClaims.Subject(), audiences, effectiveScopes, state, false)
}

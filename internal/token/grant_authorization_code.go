package token

import (
	"context"
	"time"

	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// authorizationCodeGrant redeems a code minted by the authorization flow. The
// code's claims are the source of truth for the user, scopes and client
// binding; the request's client_id must match the one the code was minted for.
func authorizationCodeGrant(ctx context.Context, reg *events.Registry, clientID, clientSecret, code, state string) (*Response, error) {
	const errorMsg = "Failed to acquire tokens for grant_type 'authorization_code'"

	if err := requireHandlers(reg, errorMsg, events.GetServiceAccount, events.GetTokenClaims, events.GenerateToken); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'")
	}
	if clientSecret == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_secret'")
	}
	if code == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'code'")
	}

	// The secret authenticates the client before the code is even looked at.
	serviceAccount, err := reg.ServiceAccountResult(ctx, events.Input{ClientID: clientID, ClientSecret: clientSecret})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if serviceAccount == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. The service account could not be resolved.")
	}

	codeClaims, err := reg.TokenClaimsResult(ctx, events.Input{Type: events.KindCode, Token: code})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if codeClaims == nil {
		return nil, oauth2err.New(oauth2err.InvalidToken, errorMsg+". Invalid authorization code.")
	}
	if err := codeClaims.Expired(time.Now()); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if codeClaims.ClientID() != clientID {
		return nil, oauth2err.Wrap(oauth2err.New(oauth2err.InvalidClient, "Invalid client_id"), errorMsg)
	}

	scopes := codeClaims.Scopes()
	return issueTokens(ctx, reg, errorMsg, clientID, codeClaims.Subject(), serviceAccount.Audiences, scopes, state, hasScope(scopes, "offline_access"))
}

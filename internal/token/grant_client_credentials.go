package token

import (
	"context"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// clientCredentialsGrant mints a machine-to-machine access token. The service
// account lookup doubles as client authentication since the secret is passed
// through; there is no end user, so no id_token is ever issued regardless of
// the requested scopes.
func clientCredentialsGrant(ctx context.Context, reg *events.Registry, clientID, clientSecret string, scopes []string, state string) (*Response, error) {
	const errorMsg = "Failed to acquire tokens for grant_type 'client_credentials'"

	if err := requireHandlers(reg, errorMsg, events.GetServiceAccount, events.GenerateToken); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'")
	}
	if clientSecret == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_secret'")
	}

	serviceAccount, err := reg.ServiceAccountResult(ctx, events.Input{ClientID: clientID, ClientSecret: clientSecret})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if serviceAccount == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. The service account could not be resolved.")
	}
	if err := claims.VerifyScopes(scopes, serviceAccount.Scopes); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	accessResult, err := reg.GenerateAccessTokenResult(ctx, events.Input{
		ClientID:  clientID,
		Audiences: serviceAccount.Audiences,
		Scopes:    scopes,
		State:     state,
	})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if accessResult == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. Generating the access_token failed to return any data.")
	}

	return &Response{
		AccessToken: accessResult.Token,
		TokenType:   "bearer",
		ExpiresIn:   accessResult.ExpiresIn,
		Scope:       claims.Join(scopes),
	}, nil
}

package token

import (
	"context"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// passwordGrant mints tokens from end-user credentials. Sequence: verify the
// integration is complete, fetch the service account and check the requested
// scopes against it, resolve the end user, check the user is linked to the
// client, then issue the tokens.
func passwordGrant(ctx context.Context, reg *events.Registry, clientID string, user map[string]any, scopes []string, state string) (*Response, error) {
	const errorMsg = "Failed to acquire tokens for grant_type 'password'"

	if err := requireHandlers(reg, errorMsg, events.GetServiceAccount, events.ProcessEndUser, events.GenerateToken); err != nil {
		return nil, err
	}
	if clientID == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'")
	}
	if user == nil {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'user'")
	}
	if s, _ := user["username"].(string); s == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'user.username'")
	}
	if s, _ := user["password"].(string); s == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'user.password'")
	}

	serviceAccount, err := reg.ServiceAccountResult(ctx, events.Input{ClientID: clientID})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if serviceAccount == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. The service account could not be resolved.")
	}
	if err := claims.VerifyScopes(scopes, serviceAccount.Scopes); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	validUser, err := reg.EndUserResult(ctx, events.Input{ClientID: clientID, User: user, State: state})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if validUser == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. Processing the end user failed to return any data.")
	}
	if err := claims.VerifyClientID(clientID, validUser.ID, validUser.ClientIDs); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	withRefreshToken := hasScope(scopes, "offline_access")
	return issueTokens(ctx, reg, errorMsg, clientID, validUser.ID, serviceAccount.Audiences, scopes, state, withRefreshToken)
}

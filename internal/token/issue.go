package token

import (
	"context"

	"golang.org/x/sync/errgroup"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// issueTokens runs the final generation step shared by every grant flow. The
// access token is always minted; an id_token only when the 'openid' scope was
// requested and a refresh_token only when the flow asks for one. Independent
// generations run concurrently and are joined fail-together: every branch
// settles before errors are reported, and any branch failure fails the whole
// issuance with all settled causes attached.
func issueTokens(ctx context.Context, reg *events.Registry, errorMsg, clientID, userID string, audiences, scopes []string, state string, withRefreshToken bool) (*Response, error) {
	requestIDToken := hasScope(scopes, "openid")

	in := events.Input{
		ClientID:  clientID,
		UserID:    userID,
		Audiences: audiences,
		Scopes:    scopes,
		State:     state,
	}

	var (
		accessResult, idResult, refreshResult *events.TokenResult
		accessErr, idErr, refreshErr          error
	)
	var g errgroup.Group
	g.Go(func() error {
		accessResult, accessErr = reg.GenerateAccessTokenResult(ctx, in)
		return accessErr
	})
	if requestIDToken {
		g.Go(func() error {
			idResult, idErr = reg.GenerateIDTokenResult(ctx, in)
			return idErr
		})
	}
	if withRefreshToken {
		g.Go(func() error {
			refreshResult, refreshErr = reg.GenerateRefreshTokenResult(ctx, in)
			return refreshErr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, oauth2err.WrapAll(errorMsg, accessErr, idErr, refreshErr)
	}
	if accessResult == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. Generating the access_token failed to return any data.")
	}

	response := &Response{
		AccessToken: accessResult.Token,
		TokenType:   "bearer",
		ExpiresIn:   accessResult.ExpiresIn,
		Scope:       claims.Join(scopes),
	}
	if idResult != nil && idResult.Token != "" {
		response.IDToken = &idResult.Token
	}
	if refreshResult != nil {
		response.RefreshToken = refreshResult.Token
	}
	return response, nil
}

func hasScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// requireHandlers verifies the integration before any handler runs, naming the
// first missing event so the defect is attributable.
func requireHandlers(reg *events.Registry, errorMsg string, eventNames ...string) error {
	for _, event := range eventNames {
		if !reg.Has(event) {
			return oauth2err.Newf(oauth2err.InternalServer, "%s. Missing '%s' handler.", errorMsg, event)
		}
	}
	return nil
}

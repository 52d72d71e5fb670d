package events

import (
	"context"
	"time"

	"authcore/internal/claims"
	"authcore/pkg/oauth2err"
)

// registerBuiltins installs the composite token handlers. They are ordinary
// chain members, not special cases: each one assembles the claim set for its
// token kind and then executes the integrator's generate_token primitive via
// the registry itself. generate_id_token additionally resolves identity
// claims through get_identity_claims.
func registerBuiltins(r *Registry) {
	r.chains[GenerateAccessToken] = []Handler{generateTokenKind(r, KindAccessToken)}
	r.chains[GenerateRefreshToken] = []Handler{generateTokenKind(r, KindRefreshToken)}
	r.chains[GenerateIDToken] = []Handler{generateIDToken(r)}
	r.chains[GenerateAuthorizationCode] = []Handler{generateAuthorizationCode(r)}
}

func (r *Registry) tokenClaims(kind, clientID, userID string, audiences, scopes []string, extra claims.Claims) claims.Claims {
	issuer, seconds, hasExpiry := r.issuerAndExpiry(kind)
	c := claims.ToOIDC(issuer, clientID, userID, audiences, scopes, extra)
	if hasExpiry {
		c = c.WithDates(time.Now(), seconds)
	}
	return c
}

func generateTokenKind(r *Registry, kind string) Handler {
	return func(ctx context.Context, _ any, in Input) (any, error) {
		errorMsg := "Failed to generate " + kind
		if !r.Has(GenerateToken) {
			return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Missing 'generate_token' handler.")
		}

		c := r.tokenClaims(kind, in.ClientID, in.UserID, in.Audiences, in.Scopes, nil)

		result, err := r.Exec(ctx, GenerateToken, Input{Type: kind, Claims: c, State: in.State})
		if err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
		return result, nil
	}
}

func generateIDToken(r *Registry) Handler {
	return func(ctx context.Context, _ any, in Input) (any, error) {
		errorMsg := "Failed to generate id_token"
		if !r.Has(GetIdentityClaims) {
			return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Missing 'get_identity_claims' handler.")
		}
		if !r.Has(GenerateToken) {
			return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Missing 'generate_token' handler.")
		}

		identity, err := r.IdentityClaimsResult(ctx, Input{
			ClientID: in.ClientID,
			UserID:   in.UserID,
			Scopes:   in.Scopes,
			State:    in.State,
		})
		if err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}

		c := r.tokenClaims(KindIDToken, in.ClientID, in.UserID, in.Audiences, in.Scopes, identity)

		result, err := r.Exec(ctx, GenerateToken, Input{Type: KindIDToken, Claims: c, State: in.State})
		if err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
		return result, nil
	}
}

func generateAuthorizationCode(r *Registry) Handler {
	return func(ctx context.Context, _ any, in Input) (any, error) {
		errorMsg := "Failed to generate authorization code"
		if !r.Has(GenerateToken) {
			return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Missing 'generate_token' handler.")
		}

		c := r.tokenClaims(KindCode, in.ClientID, in.UserID, nil, in.Scopes, nil)

		result, err := r.Exec(ctx, GenerateToken, Input{Type: KindCode, Claims: c, State: in.State})
		if err != nil {
			return nil, oauth2err.Wrap(err, errorMsg)
		}
		return result, nil
	}
}

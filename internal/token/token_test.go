package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// newTestRegistry wires a fully working in-memory integration: one client
// ("c1" / "s3cret"), one user ("bob" / "pwd") linked to it.
func newTestRegistry(t *testing.T) *events.Registry {
	t.Helper()
	r := events.New(nil)
	r.SetIssuer("https://auth.example.com")
	r.SetTokenExpiry(map[string]int64{
		events.KindAccessToken:  3600,
		events.KindIDToken:      1200,
		events.KindRefreshToken: 86400,
		events.KindCode:         30,
	})

	require.NoError(t, r.Register(events.GenerateToken, func(ctx context.Context, prev any, in events.Input) (any, error) {
		return &events.TokenResult{Token: in.Type + "-token", ExpiresIn: 3600}, nil
	}))
	require.NoError(t, r.Register(events.GetServiceAccount, func(ctx context.Context, prev any, in events.Input) (any, error) {
		if in.ClientID != "c1" {
			return nil, oauth2err.New(oauth2err.InvalidClient, "Invalid client_id")
		}
		if in.ClientSecret != "" && in.ClientSecret != "s3cret" {
			return nil, oauth2err.New(oauth2err.InvalidClient, "Invalid client_secret")
		}
		return &events.ServiceAccount{
			Scopes:    []string{"profile", "email", "offline_access"},
			Audiences: []string{"https://api.example.com"},
		}, nil
	}))
	require.NoError(t, r.Register(events.ProcessEndUser, func(ctx context.Context, prev any, in events.Input) (any, error) {
		username, _ := in.User["username"].(string)
		password, _ := in.User["password"].(string)
		if username != "bob" || password != "pwd" {
			return nil, oauth2err.New(oauth2err.InvalidCredentials, "Incorrect username or password")
		}
		return &events.User{ID: "u1", ClientIDs: []string{"c1", "c2"}}, nil
	}))
	require.NoError(t, r.Register(events.GetIdentityClaims, func(ctx context.Context, prev any, in events.Input) (any, error) {
		return claims.Claims{"email": "bob@example.com"}, nil
	}))
	return r
}

func passwordPayload(scope string) Payload {
	return Payload{
		GrantType: GrantPassword,
		ClientID:  "c1",
		Username:  "bob",
		Password:  "pwd",
		Scope:     scope,
	}
}

func TestHandleValidation(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	tests := []struct {
		name     string
		payload  Payload
		category oauth2err.Category
		contains string
	}{
		{
			name:     "missing grant_type",
			payload:  Payload{ClientID: "c1"},
			category: oauth2err.InvalidRequest,
			contains: "Missing required 'grant_type'",
		},
		{
			name:     "missing client_id",
			payload:  Payload{GrantType: GrantPassword},
			category: oauth2err.InvalidRequest,
			contains: "Missing required 'client_id'",
		},
		{
			name:     "unsupported grant_type",
			payload:  Payload{GrantType: "implicit", ClientID: "c1"},
			category: oauth2err.UnsupportedGrantType,
			contains: "grant_type 'implicit' is not supported",
		},
		{
			name:     "client_credentials without secret",
			payload:  Payload{GrantType: GrantClientCredentials, ClientID: "c1"},
			category: oauth2err.InvalidRequest,
			contains: "both 'client_id' and 'client_secret' are required",
		},
		{
			name:     "password without credentials",
			payload:  Payload{GrantType: GrantPassword, ClientID: "c1", Username: "bob"},
			category: oauth2err.InvalidRequest,
			contains: "both 'username' and 'password' are required",
		},
		{
			name:     "authorization_code without code",
			payload:  Payload{GrantType: GrantAuthorizationCode, ClientID: "c1", ClientSecret: "s3cret"},
			category: oauth2err.InvalidRequest,
			contains: "'code' is required",
		},
		{
			name:     "authorization_code without secret",
			payload:  Payload{GrantType: GrantAuthorizationCode, ClientID: "c1", Code: "xyz"},
			category: oauth2err.InvalidRequest,
			contains: "'client_secret' is required",
		},
		{
			name:     "refresh_token without token",
			payload:  Payload{GrantType: GrantRefreshToken, ClientID: "c1"},
			category: oauth2err.InvalidRequest,
			contains: "'refresh_token' is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Handle(context.Background(), tt.payload)
			require.Error(t, err)
			assert.True(t, oauth2err.HasCategory(err, tt.category), "category was %s", oauth2err.CategoryOf(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPasswordGrantIssuesIDTokenOnlyWithOpenIDScope(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	withOpenID, err := s.Handle(context.Background(), passwordPayload("profile openid"))
	require.NoError(t, err)
	assert.Equal(t, "access_token-token", withOpenID.AccessToken)
	assert.Equal(t, "bearer", withOpenID.TokenType)
	assert.Equal(t, int64(3600), withOpenID.ExpiresIn)
	require.NotNil(t, withOpenID.IDToken)
	assert.Equal(t, "id_token-token", *withOpenID.IDToken)
	assert.Equal(t, "profile openid", withOpenID.Scope)

	withoutOpenID, err := s.Handle(context.Background(), passwordPayload("profile"))
	require.NoError(t, err)
	assert.Nil(t, withoutOpenID.IDToken)
}

func TestPasswordGrantIssuesRefreshTokenOnOfflineAccess(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	response, err := s.Handle(context.Background(), passwordPayload("profile offline_access"))
	require.NoError(t, err)
	assert.Equal(t, "refresh_token-token", response.RefreshToken)

	response, err = s.Handle(context.Background(), passwordPayload("profile"))
	require.NoError(t, err)
	assert.Empty(t, response.RefreshToken)
}

func TestPasswordGrantMissingServiceAccountHandler(t *testing.T) {
	r := events.New(nil)
	require.NoError(t, r.Register(events.GenerateToken, func(ctx context.Context, prev any, in events.Input) (any, error) {
		return &events.TokenResult{Token: "t"}, nil
	}))
	s := New(r, nil)

	_, err := s.Handle(context.Background(), passwordPayload("profile"))
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InternalServer))
	assert.Contains(t, err.Error(), "Missing 'get_service_account' handler")
}

func TestPasswordGrantRejectsUnallowedScopes(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	_, err := s.Handle(context.Background(), passwordPayload("profile payments trading"))
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidScope))
	assert.Contains(t, err.Error(), "payments")
	assert.Contains(t, err.Error(), "trading")
}

func TestPasswordGrantRejectsWrongCredentials(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	p := passwordPayload("profile")
	p.Password = "wrong"
	_, err := s.Handle(context.Background(), p)
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidCredentials))
}

func TestPasswordGrantVerifiesClientBinding(t *testing.T) {
	r := newTestRegistry(t)
	// A later handler rebinds the user to clients that exclude the caller.
	require.NoError(t, r.Register(events.ProcessEndUser, func(ctx context.Context, prev any, in events.Input) (any, error) {
		user := prev.(*events.User)
		user.ClientIDs = []string{"other-client"}
		return user, nil
	}))
	s := New(r, nil)

	_, err := s.Handle(context.Background(), passwordPayload("profile"))
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidClient))
	assert.Contains(t, err.Error(), "Invalid client_id")
}

func TestPasswordGrantCorruptedClientBinding(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(events.ProcessEndUser, func(ctx context.Context, prev any, in events.Input) (any, error) {
		user := prev.(*events.User)
		user.ClientIDs = nil
		return user, nil
	}))
	s := New(r, nil)

	_, err := s.Handle(context.Background(), passwordPayload("profile"))
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InternalServer))
	assert.Contains(t, err.Error(), "Corrupted data")
}

func TestNoPartialSuccessWhenIDTokenBranchFails(t *testing.T) {
	r := newTestRegistry(t)
	// The access_token branch keeps succeeding; only id_token generation dies.
	require.NoError(t, r.Register(events.GenerateToken, func(ctx context.Context, prev any, in events.Input) (any, error) {
		if in.Type == events.KindIDToken {
			return nil, oauth2err.New(oauth2err.InternalServer, "signing key unavailable")
		}
		return prev, nil
	}))
	s := New(r, nil)

	_, err := s.Handle(context.Background(), passwordPayload("profile openid"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signing key unavailable")
}

func TestClientCredentialsGrant(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	response, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantClientCredentials,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Scope:        "profile openid",
	})
	require.NoError(t, err)
	assert.Equal(t, "access_token-token", response.AccessToken)
	// Machine flows have no end user behind them.
	assert.Nil(t, response.IDToken)
}

func TestClientCredentialsGrantRejectsBadSecret(t *testing.T) {
	s := New(newTestRegistry(t), nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantClientCredentials,
		ClientID:     "c1",
		ClientSecret: "nope",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidClient))
}

func registerCodeClaims(t *testing.T, r *events.Registry, c claims.Claims) {
	t.Helper()
	require.NoError(t, r.Register(events.GetTokenClaims, func(ctx context.Context, prev any, in events.Input) (any, error) {
		if in.Token == "good-code" {
			return c, nil
		}
		return nil, nil
	}))
}

func TestAuthorizationCodeGrant(t *testing.T) {
	r := newTestRegistry(t)
	registerCodeClaims(t, r, claims.Claims{
		"client_id": "c1",
		"sub":       "u1",
		"scope":     "profile openid",
		"exp":       time.Now().Add(time.Minute).Unix(),
	})
	s := New(r, nil)

	response, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Code:         "good-code",
	})
	require.NoError(t, err)
	assert.Equal(t, "access_token-token", response.AccessToken)
	require.NotNil(t, response.IDToken)
	assert.Equal(t, "profile openid", response.Scope)
}

func TestAuthorizationCodeGrantRejectsExpiredCode(t *testing.T) {
	r := newTestRegistry(t)
	registerCodeClaims(t, r, claims.Claims{
		"client_id": "c1",
		"sub":       "u1",
		"scope":     "profile",
		"exp":       time.Now().Add(-time.Minute).Unix(),
	})
	s := New(r, nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Code:         "good-code",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidToken))
	assert.Contains(t, err.Error(), "Token or code has expired")
}

func TestAuthorizationCodeGrantRejectsForeignCode(t *testing.T) {
	r := newTestRegistry(t)
	registerCodeClaims(t, r, claims.Claims{
		"client_id": "someone-else",
		"sub":       "u1",
		"scope":     "profile",
		"exp":       time.Now().Add(time.Minute).Unix(),
	})
	s := New(r, nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Code:         "good-code",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidClient))
}

func TestAuthorizationCodeGrantRejectsUnknownCode(t *testing.T) {
	r := newTestRegistry(t)
	registerCodeClaims(t, r, nil)
	s := New(r, nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Code:         "bogus",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidToken))
}

func registerRefreshClaims(t *testing.T, r *events.Registry, c claims.Claims) {
	t.Helper()
	require.NoError(t, r.Register(events.GetTokenClaims, func(ctx context.Context, prev any, in events.Input) (any, error) {
		if in.Type == events.KindRefreshToken && in.Token == "rt-1" {
			return c, nil
		}
		return nil, nil
	}))
}

func TestRefreshTokenGrantNarrowsScopes(t *testing.T) {
	r := newTestRegistry(t)
	registerRefreshClaims(t, r, claims.Claims{
		"client_id": "c1",
		"sub":       "u1",
		"scope":     "profile email",
	})
	s := New(r, nil)

	// Narrowing to a subset works.
	response, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: "rt-1",
		Scope:        "profile",
	})
	require.NoError(t, err)
	assert.Equal(t, "profile", response.Scope)

	// Omitting scope inherits everything the refresh token was minted with.
	response, err = s.Handle(context.Background(), Payload{
		GrantType:    GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: "rt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "profile email", response.Scope)

	// Widening fails.
	_, err = s.Handle(context.Background(), Payload{
		GrantType:    GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: "rt-1",
		Scope:        "profile payments",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidScope))
}

func TestRefreshTokenGrantNeverExpiringToken(t *testing.T) {
	r := newTestRegistry(t)
	// No exp claim at all: the token never expires.
	registerRefreshClaims(t, r, claims.Claims{
		"client_id": "c1",
		"sub":       "u1",
		"scope":     "profile",
	})
	s := New(r, nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: "rt-1",
	})
	assert.NoError(t, err)
}

func TestRefreshTokenGrantRejectsExpiredToken(t *testing.T) {
	r := newTestRegistry(t)
	registerRefreshClaims(t, r, claims.Claims{
		"client_id": "c1",
		"sub":       "u1",
		"scope":     "profile",
		"exp":       time.Now().Add(-time.Hour).Unix(),
	})
	s := New(r, nil)

	_, err := s.Handle(context.Background(), Payload{
		GrantType:    GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: "rt-1",
	})
	require.Error(t, err)
	assert.True(t, oauth2err.HasCategory(err, oauth2err.InvalidToken))
}

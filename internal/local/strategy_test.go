package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/internal/local/store"
	"authcore/internal/local/store/mocks"
	"authcore/internal/strategy"
	"authcore/internal/token"
	"authcore/pkg/oauth2err"
	"authcore/pkg/sentinel"
)

var testKey = []byte("unit-test-signing-key")

func testConfig(t *testing.T) *strategy.Config {
	t.Helper()
	refresh := strategy.Seconds(86400)
	cfg, err := strategy.Config{
		Modes:       []string{"loginsignup", "loginsignupfip", "openid"},
		BaseURL:     "https://auth.example.com",
		ConsentPage: "https://auth.example.com/consent",
		TokenExpiry: strategy.TokenExpiry{
			AccessToken:  3600,
			IDToken:      1200,
			Code:         30,
			RefreshToken: &refresh,
		},
	}.Validate()
	require.NoError(t, err)
	return cfg
}

// newTestStrategy seeds one client ("c1" / "s3cret") and one user
// ("bob" / "pwd") linked to it, backed by the in-memory stores.
func newTestStrategy(t *testing.T) *Strategy {
	t.Helper()
	ctx := context.Background()

	users := store.NewMemoryUserStore()
	clients := store.NewMemoryClientStore()
	tokens := store.NewMemoryTokenStore()

	secretHash, err := HashSecret("s3cret")
	require.NoError(t, err)
	require.NoError(t, clients.CreateClient(ctx, &store.Client{
		ID:         "c1",
		SecretHash: secretHash,
		Scopes:     []string{"profile", "email", "offline_access"},
		Audiences:  []string{"https://api.example.com"},
	}))

	passwordHash, err := HashSecret("pwd")
	require.NoError(t, err)
	require.NoError(t, users.CreateUser(ctx, &store.User{
		ID:           "u1",
		Username:     "bob",
		PasswordHash: passwordHash,
		ClientIDs:    []string{"c1"},
		Claims: map[string]any{
			"email":          "bob@example.com",
			"email_verified": true,
			"given_name":     "Bob",
			"ssn":            "never-released",
		},
	}))

	return New("local", testConfig(t), testKey, users, clients, tokens)
}

func newTestRegistry(t *testing.T) *events.Registry {
	t.Helper()
	r := events.New(nil)
	require.NoError(t, strategy.Register(r, newTestStrategy(t)))
	return r
}

func TestPasswordGrantEndToEnd(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	svc := token.New(registry, nil)

	response, err := svc.Handle(ctx, token.Payload{
		GrantType: token.GrantPassword,
		ClientID:  "c1",
		Username:  "bob",
		Password:  "pwd",
		Scope:     "openid email offline_access",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, response.AccessToken)
	assert.Equal(t, "bearer", response.TokenType)
	assert.EqualValues(t, 3600, response.ExpiresIn)
	require.NotNil(t, response.IDToken)
	assert.NotEmpty(t, response.RefreshToken)

	// The access token round-trips through the strategy's own verifier.
	s := newTestStrategy(t)
	c, err := s.GetTokenClaims(ctx, events.Input{Type: events.KindAccessToken, Token: response.AccessToken})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "u1", c.Subject())
	assert.Equal(t, "c1", c.ClientID())
	assert.Equal(t, "https://auth.example.com", c.String("iss"))
	assert.NoError(t, c.Expired(time.Now()))
}

func TestPasswordGrantRejectsWrongPassword(t *testing.T) {
	registry := newTestRegistry(t)
	svc := token.New(registry, nil)

	_, err := svc.Handle(context.Background(), token.Payload{
		GrantType: token.GrantPassword,
		ClientID:  "c1",
		Username:  "bob",
		Password:  "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidCredentials, oauth2err.CategoryOf(err))
	assert.Contains(t, oauth2err.Messages(err), "Incorrect username or password")
}

func TestRefreshTokenGrantRoundTrip(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	svc := token.New(registry, nil)

	first, err := svc.Handle(ctx, token.Payload{
		GrantType: token.GrantPassword,
		ClientID:  "c1",
		Username:  "bob",
		Password:  "pwd",
		Scope:     "email offline_access",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.RefreshToken)

	second, err := svc.Handle(ctx, token.Payload{
		GrantType:    token.GrantRefreshToken,
		ClientID:     "c1",
		RefreshToken: first.RefreshToken,
		Scope:        "email",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, second.AccessToken)
	assert.Equal(t, "email", second.Scope)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	svc := token.New(registry, nil)

	code, err := registry.GenerateAuthorizationCodeResult(ctx, events.Input{
		ClientID: "c1",
		UserID:   "u1",
		Scopes:   []string{"email"},
	})
	require.NoError(t, err)
	require.NotNil(t, code)

	payload := token.Payload{
		GrantType:    token.GrantAuthorizationCode,
		ClientID:     "c1",
		ClientSecret: "s3cret",
		Code:         code.Token,
	}
	response, err := svc.Handle(ctx, payload)
	require.NoError(t, err)
	assert.NotEmpty(t, response.AccessToken)

	_, err = svc.Handle(ctx, payload)
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidToken, oauth2err.CategoryOf(err))
}

func TestGetServiceAccountAuthenticatesSecret(t *testing.T) {
	ctx := context.Background()
	s := newTestStrategy(t)

	account, err := s.GetServiceAccount(ctx, events.Input{ClientID: "c1", ClientSecret: "s3cret"})
	require.NoError(t, err)
	assert.Contains(t, account.Scopes, "email")

	_, err = s.GetServiceAccount(ctx, events.Input{ClientID: "c1", ClientSecret: "nope"})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidClient, oauth2err.CategoryOf(err))

	_, err = s.GetServiceAccount(ctx, events.Input{ClientID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidClient, oauth2err.CategoryOf(err))
}

func TestGetIdentityClaimsFiltersByScope(t *testing.T) {
	ctx := context.Background()
	s := newTestStrategy(t)

	identity, err := s.GetIdentityClaims(ctx, events.Input{
		ClientID: "c1",
		UserID:   "u1",
		Scopes:   []string{"email"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity["sub"])
	assert.Equal(t, "bob@example.com", identity["email"])
	// Fields outside the granted scopes never leave the store.
	assert.NotContains(t, identity, "given_name")
	assert.NotContains(t, identity, "ssn")

	_, err = s.GetIdentityClaims(ctx, events.Input{ClientID: "c2", UserID: "u1"})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidClient, oauth2err.CategoryOf(err))
}

func TestGetTokenClaimsRejectsTamperedJWT(t *testing.T) {
	ctx := context.Background()
	s := newTestStrategy(t)

	minted, err := s.GenerateToken(ctx, events.Input{
		Type:   events.KindAccessToken,
		Claims: claims.Claims{"sub": "u1", "iat": int64(1000), "exp": int64(4600)},
	})
	require.NoError(t, err)

	forged := New("local", testConfig(t), []byte("other-key"), nil, nil, nil)
	c, err := forged.GetTokenClaims(ctx, events.Input{Type: events.KindAccessToken, Token: minted.Token})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestProcessFIPUserSignsUpOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStrategy(t)

	in := events.Input{
		Provider: "fakeidp",
		ClientID: "c1",
		User:     map[string]any{"id": float64(42), "email": "carol@example.com"},
	}
	first, err := s.ProcessFIPUser(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	assert.Equal(t, []string{"c1"}, first.ClientIDs)
	assert.Equal(t, "carol@example.com", first.Claims["email"])
	assert.NotContains(t, first.Claims, "id")

	second, err := s.ProcessFIPUser(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = s.ProcessFIPUser(ctx, events.Input{Provider: "fakeidp", ClientID: "c1", User: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InternalServer, oauth2err.CategoryOf(err))
}

func TestStoredClaimsTranslation(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	tokens := mocks.NewMockTokenStore(ctrl)
	s := New("local", testConfig(t), testKey, nil, nil, tokens)

	tokens.EXPECT().Claims(gomock.Any(), "gone").Return(nil, sentinel.ErrNotFound)
	c, err := s.GetTokenClaims(ctx, events.Input{Type: events.KindRefreshToken, Token: "gone"})
	require.NoError(t, err)
	assert.Nil(t, c)

	tokens.EXPECT().Claims(gomock.Any(), "stale").Return(nil, sentinel.ErrExpired)
	_, err = s.GetTokenClaims(ctx, events.Input{Type: events.KindRefreshToken, Token: "stale"})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InvalidToken, oauth2err.CategoryOf(err))

	tokens.EXPECT().Redeem(gomock.Any(), "code-1").Return(map[string]any{"sub": "u1"}, nil)
	c, err = s.GetTokenClaims(ctx, events.Input{Type: events.KindCode, Token: "code-1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject())
}

func TestProcessEndUserSurfacesStoreFailures(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	users := mocks.NewMockUserStore(ctrl)
	s := New("local", testConfig(t), testKey, users, nil, nil)

	users.EXPECT().UserByUsername(gomock.Any(), "bob").Return(nil, sentinel.ErrUnavailable)
	_, err := s.ProcessEndUser(ctx, events.Input{User: map[string]any{"username": "bob", "password": "pwd"}})
	require.Error(t, err)
	assert.Equal(t, oauth2err.InternalServer, oauth2err.CategoryOf(err))
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

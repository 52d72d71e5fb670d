package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/claims"
	"authcore/internal/events"
)

// baseStrategy satisfies the root contract only; tests embed it and add
// capabilities piecemeal.
type baseStrategy struct {
	name string
	cfg  *Config
}

func (s *baseStrategy) Name() string    { return s.name }
func (s *baseStrategy) Config() *Config { return s.cfg }

type withTokenGen struct{ *baseStrategy }

func (withTokenGen) GenerateToken(ctx context.Context, in events.Input) (*events.TokenResult, error) {
	return &events.TokenResult{Token: "tok", ExpiresIn: 3600}, nil
}

type loginSignupStrategy struct{ *baseStrategy }

func (loginSignupStrategy) GenerateToken(ctx context.Context, in events.Input) (*events.TokenResult, error) {
	return &events.TokenResult{Token: "tok", ExpiresIn: 3600}, nil
}

func (loginSignupStrategy) ProcessEndUser(ctx context.Context, in events.Input) (*events.User, error) {
	return &events.User{ID: "u1", ClientIDs: []string{in.ClientID}}, nil
}

func (loginSignupStrategy) GetServiceAccount(ctx context.Context, in events.Input) (*events.ServiceAccount, error) {
	return &events.ServiceAccount{Scopes: []string{"profile"}}, nil
}

type openIDStrategy struct{ loginSignupStrategy }

func (openIDStrategy) GetTokenClaims(ctx context.Context, in events.Input) (claims.Claims, error) {
	return claims.Claims{"sub": "u1"}, nil
}

func (openIDStrategy) GetIdentityClaims(ctx context.Context, in events.Input) (claims.Claims, error) {
	return claims.Claims{"email": "u1@example.com"}, nil
}

func mustValidate(t *testing.T, c Config) *Config {
	t.Helper()
	cfg, err := c.Validate()
	require.NoError(t, err)
	return cfg
}

func TestRequiredEvents(t *testing.T) {
	assert.Equal(t,
		[]string{events.GenerateToken, events.ProcessEndUser, events.GetServiceAccount},
		RequiredEvents([]Mode{ModeLoginSignup}))

	fip := RequiredEvents([]Mode{ModeLoginSignupFIP})
	assert.Subset(t, fip, RequiredEvents([]Mode{ModeLoginSignup}))
	assert.Contains(t, fip, events.ProcessFIPUser)
	assert.Contains(t, fip, events.GetTokenClaims)

	openid := RequiredEvents([]Mode{ModeOpenID})
	assert.Contains(t, openid, events.GetIdentityClaims)
	assert.NotContains(t, openid, events.ProcessFIPUser)
}

func TestVerifyEnumeratesEveryMissingEvent(t *testing.T) {
	s := withTokenGen{&baseStrategy{name: "test", cfg: mustValidate(t, validOpenIDConfig())}}

	err := Verify(s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	// Everything missing is reported at once, each naming the demanding mode.
	assert.Contains(t, err.Error(), "'process_end_user'")
	assert.Contains(t, err.Error(), "'get_service_account'")
	assert.Contains(t, err.Error(), "'get_token_claims'")
	assert.Contains(t, err.Error(), "'get_identity_claims'")
	assert.NotContains(t, err.Error(), "'generate_token'")
	assert.Contains(t, err.Error(), "mode 'openid'")
}

func TestVerifyPassesOnceComplete(t *testing.T) {
	s := openIDStrategy{loginSignupStrategy{&baseStrategy{name: "test", cfg: mustValidate(t, validOpenIDConfig())}}}
	assert.NoError(t, Verify(s))
}

func TestVerifyLoginSignupSubset(t *testing.T) {
	s := loginSignupStrategy{&baseStrategy{name: "test", cfg: mustValidate(t, validLoginSignupConfig())}}
	assert.NoError(t, Verify(s))
}

func TestVerifyNilStrategy(t *testing.T) {
	err := Verify(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRegisterInstallsHandlersAndConfig(t *testing.T) {
	r := events.New(nil)
	s := openIDStrategy{loginSignupStrategy{&baseStrategy{name: "test", cfg: mustValidate(t, validOpenIDConfig())}}}

	require.NoError(t, Register(r, s))

	for _, event := range RequiredEvents(s.Config().NormalizedModes()) {
		assert.True(t, r.Has(event), "expected handler for %s", event)
	}

	// The composite path now works end to end through the strategy methods.
	result, err := r.GenerateAccessTokenResult(context.Background(), events.Input{ClientID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "tok", result.Token)
}

func TestRegisterRefusesIncompleteStrategy(t *testing.T) {
	r := events.New(nil)
	s := withTokenGen{&baseStrategy{name: "test", cfg: mustValidate(t, validLoginSignupConfig())}}

	err := Register(r, s)
	require.Error(t, err)
	assert.False(t, r.Has(events.GenerateToken), "nothing may be registered on a failed verify")
}

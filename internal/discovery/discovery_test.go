package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderRendersEndpoints(t *testing.T) {
	b := NewBuilder("https://auth.example.com")
	b.AddAuthorizeEndpoint("google", "/google/authorize")
	b.AddAuthorizeEndpoint("facebook", "/facebook/authorize")

	doc := b.Document()

	assert.Equal(t, "https://auth.example.com", doc.Issuer)
	assert.Equal(t, "https://auth.example.com/oauth2/token", doc.TokenEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth2/introspect", doc.IntrospectionEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth2/userinfo", doc.UserinfoEndpoint)
	// Providers render sorted so the document is stable.
	assert.Equal(t, []string{
		"https://auth.example.com/facebook/authorize",
		"https://auth.example.com/google/authorize",
	}, doc.AuthorizationEndpoints)
	assert.Contains(t, doc.GrantTypesSupported, "authorization_code")
}

func TestBuilderWithoutProviders(t *testing.T) {
	doc := NewBuilder("https://auth.example.com").Document()
	assert.Empty(t, doc.AuthorizationEndpoints)
	assert.Equal(t, []string{"code", "id_token", "token"}, doc.ResponseTypesSupported)
}

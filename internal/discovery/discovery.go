// Package discovery renders the OIDC discovery document from the endpoint map
// the engine's setup produces.
package discovery

import "sort"

// Document is the /.well-known/openid-configuration payload.
type Document struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoints            []string `json:"authorization_endpoints,omitempty"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	OpenIDConfigurationEndpoint       string   `json:"openidconfiguration_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// Builder accumulates the endpoints registered during setup and renders them
// fully qualified against the server's issuer origin.
type Builder struct {
	issuer         string
	authorizePaths map[string]string
}

func NewBuilder(issuer string) *Builder {
	return &Builder{issuer: issuer, authorizePaths: map[string]string{}}
}

// AddAuthorizeEndpoint records a federated provider's authorize path.
func (b *Builder) AddAuthorizeEndpoint(provider, path string) {
	b.authorizePaths[provider] = path
}

// Document renders the discovery payload.
func (b *Builder) Document() Document {
	providers := make([]string, 0, len(b.authorizePaths))
	for p := range b.authorizePaths {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	authorize := make([]string, 0, len(providers))
	for _, p := range providers {
		authorize = append(authorize, b.issuer+b.authorizePaths[p])
	}

	return Document{
		Issuer:                      b.issuer,
		AuthorizationEndpoints:      authorize,
		TokenEndpoint:               b.issuer + "/oauth2/token",
		IntrospectionEndpoint:       b.issuer + "/oauth2/introspect",
		UserinfoEndpoint:            b.issuer + "/oauth2/userinfo",
		OpenIDConfigurationEndpoint: b.issuer + "/.well-known/openid-configuration",
		GrantTypesSupported: []string{
			"client_credentials", "password", "refresh_token", "authorization_code",
		},
		ResponseTypesSupported:            []string{"code", "id_token", "token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
	}
}

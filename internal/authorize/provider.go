package authorize

import "context"

// Provider adapts one federated identity provider's OAuth2 authorization-code
// flow. Implementations own the provider specific URLs, credentials and
// profile parsing; the flow only sees the generic hand-off.
type Provider interface {
	// Name is the provider identifier used in URLs and log lines, lowercase.
	Name() string
	// AuthorizationURL builds the provider's consent URL. callbackURL is the
	// absolute URL the provider must redirect back to and state is the opaque
	// blob it must return untouched.
	AuthorizationURL(callbackURL, state string) (string, error)
	// Exchange trades the provider's authorization code for the federated
	// user profile. callbackURL must be the exact URL the code was issued
	// against. The returned map must carry at least an "id" field.
	Exchange(ctx context.Context, code, callbackURL string) (map[string]any, error)
}

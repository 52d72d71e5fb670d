// Package events implements the process-wide event handler registry. An
// event is a named integration point; an integrator supplies one or more
// handlers per event and the engine folds a request through the chain.
//
// The registry follows a setup-then-serve discipline: handlers are registered
// while the application boots and the chains are read-only once traffic is
// served. A registration lock keeps late registration safe anyway.
package events

import (
	"context"

	"authcore/internal/claims"
)

// Supported event identifiers. Registration of any other name is rejected.
const (
	GenerateToken             = "generate_token"
	GenerateIDToken           = "generate_id_token"
	GenerateAccessToken       = "generate_access_token"
	GenerateRefreshToken      = "generate_refresh_token"
	GenerateAuthorizationCode = "generate_authorization_code"
	GetIdentityClaims         = "get_identity_claims"
	ProcessEndUser            = "process_end_user"
	ProcessFIPUser            = "process_fip_user"
	GetServiceAccount         = "get_service_account"
	GetTokenClaims            = "get_token_claims"
)

var supported = []string{
	GenerateToken,
	GenerateIDToken,
	GenerateAccessToken,
	GenerateRefreshToken,
	GenerateAuthorizationCode,
	GetIdentityClaims,
	ProcessEndUser,
	ProcessFIPUser,
	GetServiceAccount,
	GetTokenClaims,
}

// Supported lists every registrable event name.
func Supported() []string {
	out := make([]string, len(supported))
	copy(out, supported)
	return out
}

// IsSupported reports whether name is a registrable event.
func IsSupported(name string) bool {
	for _, s := range supported {
		if s == name {
			return true
		}
	}
	return false
}

// Token kinds understood by generate_token handlers and the expiry config.
const (
	KindAccessToken  = "access_token"
	KindRefreshToken = "refresh_token"
	KindIDToken      = "id_token"
	KindCode         = "code"
)

// Input carries the request-scoped parameters of one event execution. Only
// the fields relevant to the executed event are populated; the struct stays
// flat so handler signatures never churn when a flow passes one more field.
type Input struct {
	// Type is the token kind for generate_token / get_token_claims.
	Type string
	// Claims is the fully assembled claim set handed to generate_token.
	Claims claims.Claims
	// Token is the raw token value handed to get_token_claims.
	Token string

	ClientID     string
	ClientSecret string
	UserID       string
	// User holds end-user credentials and signup data for process_end_user,
	// or the federated identity for process_fip_user.
	User map[string]any
	// Provider names the federated identity provider for process_fip_user.
	Provider string

	Scopes    []string
	Audiences []string
	// State is opaque client data threaded through untouched.
	State string
}

// TokenResult is the outcome of a token generation event.
type TokenResult struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// User is a resolved end user, as returned by process_end_user and
// process_fip_user handlers.
type User struct {
	ID string
	// ClientIDs lists the clients this user is linked to; flows refuse to
	// mint tokens for a client outside this list.
	ClientIDs []string
	Claims    claims.Claims
}

// ServiceAccount is the client record returned by get_service_account.
type ServiceAccount struct {
	Scopes    []string
	Audiences []string
}

// Handler processes one event. prev is the previous handler's non-nil result
// when handlers are chained, nil for the first handler in the chain. A nil
// result leaves the accumulated value untouched.
type Handler func(ctx context.Context, prev any, in Input) (any, error)

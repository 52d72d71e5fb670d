package audit

import "time"

// Audited actions.
const (
	ActionToken      = "token"
	ActionIntrospect = "introspect"
	ActionUserinfo   = "userinfo"
	ActionFIPLogin   = "fip_login"
)

// Event is emitted from the endpoint handlers to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	Action    string
	ClientID  string
	// GrantType is set for token endpoint events.
	GrantType string
	// Provider is set for federated login events.
	Provider string
	// Browser and OS come from the caller's parsed User-Agent.
	Browser string
	OS      string
	// Outcome is "success" or the OAuth2 error category of the failure.
	Outcome string
}

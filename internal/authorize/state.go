package authorize

import (
	"encoding/base64"
	"encoding/json"

	"authcore/pkg/oauth2err"
)

// RedirectState is the full original authorization request, carried across
// the identity provider round trip inside the provider's opaque state
// parameter. It is never persisted server side; the provider hands it back
// verbatim on the callback. OrigRedirectURI pins the callback URL the dance
// started with, defending against redirect URI substitution since most
// providers refuse a token exchange against a different redirect URI.
type RedirectState struct {
	ClientID        string `json:"client_id"`
	RedirectURI     string `json:"redirect_uri"`
	ResponseType    string `json:"response_type"`
	Scope           string `json:"scope,omitempty"`
	State           string `json:"state,omitempty"`
	OrigRedirectURI string `json:"orig_redirectUri"`
}

// Encode serializes the state into a URL-safe opaque blob.
func (s RedirectState) Encode() string {
	raw, _ := json.Marshal(s)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeState reverses Encode. Field completeness is the caller's concern;
// this only guards against values that were never produced by Encode.
func DecodeState(encoded string) (*RedirectState, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oauth2err.Newf(oauth2err.InvalidRequest, "Failed to decode 'state' query parameter (value: %s)", encoded)
	}
	var s RedirectState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, oauth2err.Newf(oauth2err.InvalidRequest, "Failed to decode 'state' query parameter (value: %s)", encoded)
	}
	return &s, nil
}

package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"authcore/internal/introspect"
	"authcore/internal/token"
	"authcore/pkg/oauth2err"
)

// decodeTokenPayload accepts the standard form encoding and, as an extension,
// a JSON body (the only way to carry the free-form 'data' signup object).
func decodeTokenPayload(r *http.Request) (token.Payload, error) {
	if isJSON(r) {
		var p token.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return token.Payload{}, oauth2err.New(oauth2err.InvalidRequest, "Failed to parse the request body as JSON.")
		}
		return p, nil
	}
	if err := r.ParseForm(); err != nil {
		return token.Payload{}, oauth2err.New(oauth2err.InvalidRequest, "Failed to parse the request body.")
	}
	return token.Payload{
		GrantType:    r.PostFormValue("grant_type"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Code:         r.PostFormValue("code"),
		State:        r.PostFormValue("state"),
		Scope:        r.PostFormValue("scope"),
	}, nil
}

func decodeIntrospectPayload(r *http.Request) (introspect.Payload, error) {
	if isJSON(r) {
		var p introspect.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return introspect.Payload{}, oauth2err.New(oauth2err.InvalidRequest, "Failed to parse the request body as JSON.")
		}
		return p, nil
	}
	if err := r.ParseForm(); err != nil {
		return introspect.Payload{}, oauth2err.New(oauth2err.InvalidRequest, "Failed to parse the request body.")
	}
	return introspect.Payload{
		ClientID:      r.PostFormValue("client_id"),
		ClientSecret:  r.PostFormValue("client_secret"),
		Token:         r.PostFormValue("token"),
		TokenTypeHint: r.PostFormValue("token_type_hint"),
	}, nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// Package claims converts between the space-delimited scope/audience wire
// form and semantic slices, and assembles OIDC claim sets. Everything here is
// pure; no I/O and no engine state.
package claims

import (
	"strconv"
	"strings"
	"time"

	"authcore/pkg/oauth2err"
)

// Claims is an OIDC claim set. A map keeps identity-specific extra fields
// first-class, the same trade-off golang-jwt makes with MapClaims.
type Claims map[string]any

// Split converts a space-delimited parameter (scope, aud) into a slice.
// '+' is accepted as a separator since some clients URL-encode spaces that
// way. Empty segments are dropped; order is preserved.
func Split(param string) []string {
	if param == "" {
		return nil
	}
	fields := strings.FieldsFunc(param, func(r rune) bool {
		return r == ' ' || r == '+'
	})
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Join converts a slice back to the space-delimited wire form, skipping empty
// entries. Split(Join(x)) == x for inputs without embedded spaces.
func Join(values []string) string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, " ")
}

// ToOIDC builds the canonical claim object. aud and scope are serialized as
// single space-joined strings on the wire; extra identity fields are merged
// in without overriding the reserved ones.
func ToOIDC(iss, clientID, userID string, audiences, scopes []string, extra Claims) Claims {
	c := Claims{
		"iss":       iss,
		"aud":       Join(audiences),
		"client_id": clientID,
		"scope":     Join(scopes),
	}
	if userID != "" {
		c["sub"] = userID
	} else {
		c["sub"] = nil
	}
	for k, v := range extra {
		if _, reserved := c[k]; !reserved {
			c[k] = v
		}
	}
	return c
}

// WithDates returns a copy of c carrying iat and exp, both in Unix-epoch
// seconds, with exp = iat + expirySeconds.
func (c Claims) WithDates(now time.Time, expirySeconds int64) Claims {
	out := make(Claims, len(c)+2)
	for k, v := range c {
		out[k] = v
	}
	iat := now.Unix()
	out["iat"] = iat
	out["exp"] = iat + expirySeconds
	return out
}

// String reads a string-valued claim, tolerating absence.
func (c Claims) String(name string) string {
	if v, ok := c[name].(string); ok {
		return v
	}
	return ""
}

// Subject returns the sub claim.
func (c Claims) Subject() string { return c.String("sub") }

// ClientID returns the client_id claim.
func (c Claims) ClientID() string { return c.String("client_id") }

// Scopes returns the scope claim decomposed into a slice.
func (c Claims) Scopes() []string { return Split(c.String("scope")) }

// Audiences returns the aud claim decomposed into a slice.
func (c Claims) Audiences() []string { return Split(c.String("aud")) }

// StringSlice reads a list claim, accepting the native []string form and the
// []any form a JSON round trip produces. Non-string elements are dropped.
func (c Claims) StringSlice(name string) []string {
	switch v := c[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// number coerces the numeric claim encodings that survive JSON and string
// round trips.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Expired fails with InvalidClaim if exp is missing or non-numeric, and with
// InvalidToken once the expiry has passed. exp is stored in seconds; the
// wall-clock comparison happens in milliseconds.
func (c Claims) Expired(now time.Time) error {
	exp, ok := number(c["exp"])
	if c == nil || !ok {
		return oauth2err.New(oauth2err.InvalidClaim, "Claim is missing required 'exp' field")
	}
	if now.UnixMilli() > int64(exp*1000) {
		return oauth2err.New(oauth2err.InvalidToken, "Token or code has expired")
	}
	return nil
}

// VerifyScopes checks requested scopes against the service account's
// allow-list and fails naming every offending scope. The 'openid' scope is a
// flow marker, not a real scope, and is never checked.
func VerifyScopes(scopes, serviceAccountScopes []string) error {
	allowed := make(map[string]struct{}, len(serviceAccountScopes))
	for _, s := range serviceAccountScopes {
		allowed[s] = struct{}{}
	}
	var invalid []string
	for _, s := range scopes {
		if s == "openid" {
			continue
		}
		if _, ok := allowed[s]; !ok {
			invalid = append(invalid, s)
		}
	}
	if len(invalid) > 0 {
		plural := ""
		if len(invalid) > 1 {
			plural = "s"
		}
		return oauth2err.Newf(oauth2err.InvalidScope, "Access to scope%s %s is not allowed.", plural, strings.Join(invalid, ", "))
	}
	return nil
}

// VerifyAudiences checks requested audiences against the service account's
// allow-list and fails naming every offending audience.
func VerifyAudiences(audiences, serviceAccountAudiences []string) error {
	allowed := make(map[string]struct{}, len(serviceAccountAudiences))
	for _, a := range serviceAccountAudiences {
		allowed[a] = struct{}{}
	}
	var invalid []string
	for _, a := range audiences {
		if _, ok := allowed[a]; !ok {
			invalid = append(invalid, a)
		}
	}
	if len(invalid) > 0 {
		plural := ""
		if len(invalid) > 1 {
			plural = "s"
		}
		return oauth2err.Newf(oauth2err.UnauthorizedClient, "Access to audience%s %s is not allowed.", plural, strings.Join(invalid, ", "))
	}
	return nil
}

// VerifyClientID checks that the resolved user is linked to the client. An
// empty link list is corrupted integrator data, not a client mistake.
func VerifyClientID(clientID, userID string, userClientIDs []string) error {
	if len(userClientIDs) == 0 {
		return oauth2err.Newf(oauth2err.InternalServer, "Corrupted data. Failed to associate client_ids with user_id %s.", userID)
	}
	for _, id := range userClientIDs {
		if id == clientID {
			return nil
		}
	}
	return oauth2err.New(oauth2err.InvalidClient, "Invalid client_id")
}

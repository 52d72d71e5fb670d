// Package strategy defines the contract an integrator implements to plug
// persistence and identity verification into the engine. A strategy is a
// configuration value (modes, lifetimes, issuer) plus a set of named
// operations; which operations are required is a function of the declared
// modes, checked at registration time rather than by the type system.
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"authcore/internal/events"
	pstrings "authcore/pkg/strings"
)

// ErrInvalidConfig tags every strategy configuration and verification
// failure so callers can test with errors.Is.
var ErrInvalidConfig = errors.New("invalid strategy configuration")

// Mode enables a family of flows and determines which events a strategy
// must implement.
type Mode string

const (
	// ModeLoginSignup covers direct credential flows (password grant,
	// client_credentials).
	ModeLoginSignup Mode = "loginsignup"
	// ModeLoginSignupFIP adds the federated identity provider redirect dance.
	ModeLoginSignupFIP Mode = "loginsignupfip"
	// ModeOpenID adds id_token issuance, introspection and userinfo.
	ModeOpenID Mode = "openid"
)

var supportedModes = []Mode{ModeLoginSignup, ModeLoginSignupFIP, ModeOpenID}

// Seconds is a positive duration in seconds. It unmarshals from either a
// JSON number or a numeric string, since strategy configs routinely arrive
// from environment-variable-shaped sources.
type Seconds int64

// UnmarshalJSON coerces numeric-looking strings; anything else fails.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Seconds(n)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("expiry must be a number of seconds, got %s: %w", string(data), ErrInvalidConfig)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("expiry must be a number of seconds, got %q: %w", raw, ErrInvalidConfig)
	}
	*s = Seconds(n)
	return nil
}

// TokenExpiry holds per-kind token lifetimes. RefreshToken is a pointer
// because nil means "never expires", which is a valid production choice.
type TokenExpiry struct {
	AccessToken  Seconds  `json:"access_token"`
	RefreshToken *Seconds `json:"refresh_token,omitempty"`
	IDToken      Seconds  `json:"id_token,omitempty"`
	Code         Seconds  `json:"code,omitempty"`
}

// Config is the integrator-facing strategy configuration. Build one, then
// call Validate; flows only ever see the validated form.
type Config struct {
	// Modes declares which flow families the strategy supports. Unknown
	// entries are silently dropped; an empty result defaults to loginsignup.
	Modes []string `json:"modes,omitempty"`
	// BaseURL is the public root of this authorization server.
	BaseURL string `json:"baseUrl"`
	// ConsentPage is the consent UI location, required in openid mode.
	ConsentPage string `json:"consentPage,omitempty"`
	TokenExpiry TokenExpiry `json:"tokenExpiry"`

	// Derived during Validate.
	modes  []Mode
	issuer string
}

// Validate normalizes and checks the configuration, failing fast with every
// rule it can report. On success the returned config carries the derived
// modes and issuer; on failure no partially validated config escapes.
func (c Config) Validate() (*Config, error) {
	var problems []error

	c.modes = normalizeModes(c.Modes)

	if c.BaseURL == "" {
		problems = append(problems, errors.New("missing required 'baseUrl'"))
	} else {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Errorf("'baseUrl' %q is not a valid absolute URL", c.BaseURL))
		} else {
			c.issuer = u.Scheme + "://" + u.Host
		}
	}

	openid := c.modeOn(ModeOpenID)
	fip := c.modeOn(ModeLoginSignupFIP)

	if openid && c.ConsentPage == "" {
		problems = append(problems, errors.New("'consentPage' is required when the 'openid' mode is active"))
	}

	if c.TokenExpiry.AccessToken <= 0 {
		problems = append(problems, errors.New("'tokenExpiry.access_token' must be a positive number of seconds"))
	}
	if openid && c.TokenExpiry.IDToken <= 0 {
		problems = append(problems, errors.New("'tokenExpiry.id_token' must be a positive number of seconds when the 'openid' mode is active"))
	}
	if (openid || fip) && c.TokenExpiry.Code <= 0 {
		problems = append(problems, errors.New("'tokenExpiry.code' must be a positive number of seconds when the 'openid' or 'loginsignupfip' mode is active"))
	}
	if c.TokenExpiry.RefreshToken != nil && *c.TokenExpiry.RefreshToken <= 0 {
		problems = append(problems, errors.New("'tokenExpiry.refresh_token' must be a positive number of seconds when set"))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return &c, nil
}

func normalizeModes(raw []string) []Mode {
	cleaned := pstrings.DedupeAndTrimLower(raw)
	modes := make([]Mode, 0, len(cleaned))
	for _, m := range cleaned {
		for _, s := range supportedModes {
			if Mode(m) == s {
				modes = append(modes, s)
				break
			}
		}
	}
	if len(modes) == 0 {
		return []Mode{ModeLoginSignup}
	}
	return modes
}

func (c *Config) modeOn(mode Mode) bool {
	for _, m := range c.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// NormalizedModes returns the validated mode set.
func (c *Config) NormalizedModes() []Mode {
	out := make([]Mode, len(c.modes))
	copy(out, c.modes)
	return out
}

// ModeOn reports whether mode is active. Only meaningful after Validate.
func (c *Config) ModeOn(mode Mode) bool { return c.modeOn(mode) }

// Issuer is the iss claim value, derived from BaseURL's origin.
func (c *Config) Issuer() string { return c.issuer }

// ExpirySeconds flattens the configured lifetimes into the kind→seconds map
// the event registry consumes. Kinds without a configured lifetime are
// absent, including a nil (never expiring) refresh token.
func (c *Config) ExpirySeconds() map[string]int64 {
	out := map[string]int64{}
	if c.TokenExpiry.AccessToken > 0 {
		out[events.KindAccessToken] = int64(c.TokenExpiry.AccessToken)
	}
	if c.TokenExpiry.RefreshToken != nil && *c.TokenExpiry.RefreshToken > 0 {
		out[events.KindRefreshToken] = int64(*c.TokenExpiry.RefreshToken)
	}
	if c.TokenExpiry.IDToken > 0 {
		out[events.KindIDToken] = int64(c.TokenExpiry.IDToken)
	}
	if c.TokenExpiry.Code > 0 {
		out[events.KindCode] = int64(c.TokenExpiry.Code)
	}
	return out
}

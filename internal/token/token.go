// Package token implements the OAuth2 token endpoint: input validation, grant
// type dispatch and normalization of every flow's output into a single
// response shape. All persistence and crypto happens inside the integrator's
// event handlers; this package only orchestrates them.
package token

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

// Supported grant types.
const (
	GrantClientCredentials = "client_credentials"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
	GrantAuthorizationCode = "authorization_code"
)

var validGrantTypes = []string{GrantClientCredentials, GrantPassword, GrantRefreshToken, GrantAuthorizationCode}

var (
	tokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_tokens_issued_total",
		Help: "Total number of successful token endpoint responses",
	}, []string{"grant_type"})

	tokenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_token_failures_total",
		Help: "Total number of failed token endpoint requests",
	}, []string{"grant_type", "category"})
)

// Payload is the token endpoint request body. Data carries arbitrary signup
// fields forwarded to process_end_user alongside the credentials.
type Payload struct {
	GrantType    string         `json:"grant_type"`
	Username     string         `json:"username,omitempty"`
	Password     string         `json:"password,omitempty"`
	ClientID     string         `json:"client_id"`
	ClientSecret string         `json:"client_secret,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Code         string         `json:"code,omitempty"`
	State        string         `json:"state,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

// Response is the normalized output of every grant flow. IDToken is a pointer
// so the JSON rendering distinguishes "no id_token requested" (null) from an
// issued token.
type Response struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	IDToken      *string `json:"id_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	Scope        string  `json:"scope"`
}

// Service dispatches token endpoint requests to the grant flows.
type Service struct {
	events *events.Registry
	logger *slog.Logger
	tracer trace.Tracer
}

func New(registry *events.Registry, logger *slog.Logger) *Service {
	return &Service{
		events: registry,
		logger: logger,
		tracer: otel.Tracer("authcore/token"),
	}
}

// Handle validates the request and runs the matching grant flow. Validation
// order: grant_type, client_id, then the grant specific required fields.
func (s *Service) Handle(ctx context.Context, p Payload) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "token.handle",
		trace.WithAttributes(attribute.String("oauth2.grant_type", p.GrantType)))
	defer span.End()

	response, err := s.handle(ctx, p)
	if err != nil {
		tokenFailures.WithLabelValues(p.GrantType, string(oauth2err.CategoryOf(err))).Inc()
		if s.logger != nil {
			s.logger.WarnContext(ctx, "token request failed",
				"grant_type", p.GrantType,
				"client_id", p.ClientID,
				"error", err.Error(),
			)
		}
		return nil, err
	}
	tokensIssued.WithLabelValues(p.GrantType).Inc()
	if s.logger != nil {
		s.logger.InfoContext(ctx, "tokens issued",
			"grant_type", p.GrantType,
			"client_id", p.ClientID,
			"id_token", response.IDToken != nil,
		)
	}
	return response, nil
}

func (s *Service) handle(ctx context.Context, p Payload) (*Response, error) {
	const errorMsg = "Failed to get OAuth2 tokens"

	if p.GrantType == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'grant_type'.")
	}
	if p.ClientID == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id' argument")
	}
	if !isValidGrantType(p.GrantType) {
		return nil, oauth2err.Newf(oauth2err.UnsupportedGrantType, "%s. grant_type '%s' is not supported.", errorMsg, p.GrantType)
	}

	switch p.GrantType {
	case GrantClientCredentials:
		if p.ClientSecret == "" {
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. When grant_type is '%s' both 'client_id' and 'client_secret' are required.", errorMsg, p.GrantType)
		}
	case GrantPassword:
		if p.Username == "" || p.Password == "" {
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. When grant_type is '%s' both 'username' and 'password' are required.", errorMsg, p.GrantType)
		}
	case GrantAuthorizationCode:
		if p.Code == "" {
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. When grant_type is '%s', 'code' is required.", errorMsg, p.GrantType)
		}
		if p.ClientSecret == "" {
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. When grant_type is '%s', 'client_secret' is required.", errorMsg, p.GrantType)
		}
	case GrantRefreshToken:
		if p.RefreshToken == "" {
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. When grant_type is '%s', 'refresh_token' is required.", errorMsg, p.GrantType)
		}
	}

	scopes := claims.Split(p.Scope)

	var (
		response *Response
		err      error
	)
	switch p.GrantType {
	case GrantPassword:
		user := map[string]any{}
		for k, v := range p.Data {
			user[k] = v
		}
		user["username"] = p.Username
		user["password"] = p.Password
		response, err = passwordGrant(ctx, s.events, p.ClientID, user, scopes, p.State)
	case GrantClientCredentials:
		response, err = clientCredentialsGrant(ctx, s.events, p.ClientID, p.ClientSecret, scopes, p.State)
	case GrantAuthorizationCode:
		response, err = authorizationCodeGrant(ctx, s.events, p.ClientID, p.ClientSecret, p.Code, p.State)
	case GrantRefreshToken:
		response, err = refreshTokenGrant(ctx, s.events, p.ClientID, p.RefreshToken, scopes, p.State)
	}
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	return response, nil
}

func isValidGrantType(grantType string) bool {
	for _, g := range validGrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

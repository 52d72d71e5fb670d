// Package introspect implements RFC 7662 style token introspection. A token
// that cannot be resolved or has expired reports {active:false} rather than
// an error, so a caller cannot distinguish a revoked token from one that
// never existed.
package introspect

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

var introspections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authcore_introspections_total",
	Help: "Total number of introspection requests by outcome",
}, []string{"outcome"})

var validTokenTypeHints = []string{events.KindIDToken, events.KindAccessToken, events.KindRefreshToken}

// Payload is the introspection endpoint request body.
type Payload struct {
	ClientID      string `json:"client_id"`
	ClientSecret  string `json:"client_secret,omitempty"`
	Token         string `json:"token"`
	TokenTypeHint string `json:"token_type_hint"`
}

// Response is the introspection result. Inactive responses carry nothing but
// Active=false.
type Response struct {
	Active    bool   `json:"active"`
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	IssuedAt  any    `json:"iat,omitempty"`
	ExpiresAt any    `json:"exp,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// Service resolves introspection requests through the event registry.
type Service struct {
	events *events.Registry
	logger *slog.Logger
}

func New(registry *events.Registry, logger *slog.Logger) *Service {
	return &Service{events: registry, logger: logger}
}

// Handle authenticates the caller, resolves the token's claims and reports
// the token's state. The service account fetch and the claims resolution are
// independent and run concurrently.
func (s *Service) Handle(ctx context.Context, p Payload) (*Response, error) {
	const errorMsg = "Failed to introspect token"

	for _, event := range []string{events.GetServiceAccount, events.GetTokenClaims} {
		if !s.events.Has(event) {
			introspections.WithLabelValues("error").Inc()
			return nil, oauth2err.Newf(oauth2err.InternalServer, "%s. Missing '%s' handler.", errorMsg, event)
		}
	}

	if p.ClientID == "" {
		introspections.WithLabelValues("error").Inc()
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'.")
	}
	if p.Token == "" {
		introspections.WithLabelValues("error").Inc()
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'token'.")
	}
	if !isValidTokenTypeHint(p.TokenTypeHint) {
		introspections.WithLabelValues("error").Inc()
		return nil, oauth2err.Newf(oauth2err.InvalidRequest,
			"%s. token_type_hint '%s' is not supported.", errorMsg, p.TokenTypeHint)
	}

	// The service account fetch authenticates the caller; its payload is not
	// needed beyond that.
	var tokenClaims claims.Claims
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.events.ServiceAccountResult(ctx, events.Input{ClientID: p.ClientID, ClientSecret: p.ClientSecret})
		return err
	})
	g.Go(func() error {
		var err error
		tokenClaims, err = s.events.TokenClaimsResult(ctx, events.Input{Type: p.TokenTypeHint, Token: p.Token})
		return err
	})
	if err := g.Wait(); err != nil {
		// Caller authentication failures and integration outages stay hard
		// errors; only an unresolvable token degrades to inactive.
		if oauth2err.HasCategory(err, oauth2err.InvalidClient) || oauth2err.HasCategory(err, oauth2err.InternalServer) {
			introspections.WithLabelValues("error").Inc()
			return nil, oauth2err.Wrap(err, errorMsg)
		}
		introspections.WithLabelValues("inactive").Inc()
		return &Response{Active: false}, nil
	}

	if tokenClaims == nil {
		introspections.WithLabelValues("inactive").Inc()
		return &Response{Active: false}, nil
	}
	if err := tokenClaims.Expired(time.Now()); err != nil {
		introspections.WithLabelValues("inactive").Inc()
		return &Response{Active: false}, nil
	}

	if tokenClaims.ClientID() != p.ClientID {
		introspections.WithLabelValues("error").Inc()
		return nil, oauth2err.Wrap(oauth2err.New(oauth2err.InvalidClient, "Invalid client_id"), errorMsg)
	}

	introspections.WithLabelValues("active").Inc()
	if s.logger != nil {
		s.logger.InfoContext(ctx, "token introspected",
			"client_id", p.ClientID,
			"token_type_hint", p.TokenTypeHint,
		)
	}
	return &Response{
		Active:    true,
		Issuer:    tokenClaims.String("iss"),
		Subject:   tokenClaims.Subject(),
		Audience:  tokenClaims.String("aud"),
		ClientID:  tokenClaims.ClientID(),
		Scope:     tokenClaims.String("scope"),
		IssuedAt:  tokenClaims["iat"],
		ExpiresAt: tokenClaims["exp"],
		TokenType: "Bearer",
	}, nil
}

func isValidTokenTypeHint(hint string) bool {
	for _, h := range validTokenTypeHints {
		if h == hint {
			return true
		}
	}
	return false
}

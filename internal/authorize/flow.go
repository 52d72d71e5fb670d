// Package authorize implements the federated identity provider redirect
// dance: Phase A validates the inbound authorization request and redirects
// the browser to the provider's consent page, Phase B consumes the provider
// callback, exchanges the federated identity for an internal user and issues
// the requested token kinds onto the client's redirect URI.
package authorize

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"authcore/internal/claims"
	"authcore/internal/events"
	"authcore/pkg/oauth2err"
)

var fipLogins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authcore_fip_logins_total",
	Help: "Total number of federated identity provider callback outcomes",
}, []string{"provider", "outcome"})

// Flow drives the two phases of one provider's redirect dance.
type Flow struct {
	provider Provider
	events   *events.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewFlow(provider Provider, registry *events.Registry, logger *slog.Logger) *Flow {
	return &Flow{
		provider: provider,
		events:   registry,
		logger:   logger,
		tracer:   otel.Tracer("authcore/authorize"),
	}
}

// AuthorizeRequest is the inbound Phase A query. CallbackURL is the absolute
// URL of this flow's own callback endpoint, derived from the request by the
// transport.
type AuthorizeRequest struct {
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	CallbackURL  string
}

// Authorize runs Phase A and returns the provider consent URL to redirect to.
func (f *Flow) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	const errorMsg = "Failed to execute the 'authorization' request"

	if req.ClientID == "" {
		return "", oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'client_id'.")
	}
	if req.ResponseType == "" {
		return "", oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'response_type'.")
	}
	if req.RedirectURI == "" {
		return "", oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'redirect_uri'.")
	}
	if req.CallbackURL == "" {
		return "", oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'redirect_uri' callback.")
	}
	if _, err := parseResponseTypes(req.ResponseType); err != nil {
		return "", oauth2err.Wrap(err, errorMsg)
	}

	scopes := claims.Split(req.Scope)
	if len(scopes) > 0 {
		if _, err := f.verifyScopes(ctx, req.ClientID, scopes); err != nil {
			return "", oauth2err.Wrap(err, errorMsg)
		}
	}

	state := RedirectState{
		ClientID:        req.ClientID,
		RedirectURI:     req.RedirectURI,
		ResponseType:    req.ResponseType,
		Scope:           req.Scope,
		State:           req.State,
		OrigRedirectURI: req.CallbackURL,
	}

	consentURL, err := f.provider.AuthorizationURL(req.CallbackURL, state.Encode())
	if err != nil {
		return "", oauth2err.Wrap(err, errorMsg)
	}
	if f.logger != nil {
		f.logger.InfoContext(ctx, "redirecting to identity provider",
			"provider", f.provider.Name(),
			"client_id", req.ClientID,
			"response_type", req.ResponseType,
		)
	}
	return consentURL, nil
}

// CallbackRequest is the inbound Phase B query from the provider.
type CallbackRequest struct {
	Code  string
	State string
}

// Callback runs Phase B and returns the final client redirect URL. When the
// dance fails after the client's redirect URI was already resolved, the error
// is appended to that URL as 'code' and 'message' query parameters and the
// redirect URL is returned alongside the error, so the transport can still
// send the browser somewhere useful. An empty URL with an error means no
// redirect target is known and a direct HTTP error is the only option.
func (f *Flow) Callback(ctx context.Context, req CallbackRequest) (string, error) {
	provider := f.provider.Name()
	ctx, span := f.tracer.Start(ctx, "authorize.callback",
		trace.WithAttributes(attribute.String("oauth2.provider", provider)))
	defer span.End()

	errorMsg := "Failed to process authentication response from " + provider

	if req.State == "" {
		fipLogins.WithLabelValues(provider, "failure").Inc()
		return "", oauth2err.Newf(oauth2err.InvalidRequest,
			"%s. %s did not include the required query parameter 'state' in its redirect URI.", errorMsg, provider)
	}
	decoded, err := DecodeState(req.State)
	if err != nil {
		fipLogins.WithLabelValues(provider, "failure").Inc()
		return "", oauth2err.Wrap(err, errorMsg)
	}

	// A decoded but incomplete state gets its own diagnostics so an
	// integrator can tell provider state mangling from a bad initiation.
	for _, field := range []struct{ name, value string }{
		{"client_id", decoded.ClientID},
		{"redirect_uri", decoded.RedirectURI},
		{"response_type", decoded.ResponseType},
		{"orig_redirectUri", decoded.OrigRedirectURI},
	} {
		if field.value == "" {
			fipLogins.WithLabelValues(provider, "failure").Inc()
			return "", oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. The encoded 'state' query parameter in the %s redirect URI is missing the required '%s' variable.",
				errorMsg, provider, field.name)
		}
	}

	redirectURL, err := f.exchangeAndIssue(ctx, decoded, req.Code, errorMsg)
	if err != nil {
		fipLogins.WithLabelValues(provider, "failure").Inc()
		if f.logger != nil {
			f.logger.WarnContext(ctx, "identity provider callback failed",
				"provider", provider,
				"client_id", decoded.ClientID,
				"error", err.Error(),
			)
		}
		// The redirect target is known at this point; degrade gracefully.
		return appendErrorToURL(decoded.RedirectURI, err), err
	}

	fipLogins.WithLabelValues(provider, "success").Inc()
	if f.logger != nil {
		f.logger.InfoContext(ctx, "federated user authenticated",
			"provider", provider,
			"client_id", decoded.ClientID,
		)
	}
	return redirectURL, nil
}

func (f *Flow) exchangeAndIssue(ctx context.Context, decoded *RedirectState, code, errorMsg string) (string, error) {
	user, err := f.provider.Exchange(ctx, code, decoded.OrigRedirectURI)
	if err != nil {
		return "", oauth2err.Wrap(err, errorMsg)
	}

	issued, err := f.processFIPUser(ctx, user, decoded)
	if err != nil {
		return "", oauth2err.Wrap(err, errorMsg)
	}

	target, err := url.Parse(decoded.RedirectURI)
	if err != nil {
		return "", oauth2err.Newf(oauth2err.InvalidRequest, "%s. 'redirect_uri' %q is not a valid URL.", errorMsg, decoded.RedirectURI)
	}
	query := target.Query()
	if issued.code != "" {
		query.Set("code", issued.code)
	}
	if issued.accessToken != "" {
		query.Set("access_token", issued.accessToken)
	}
	if issued.idToken != "" {
		query.Set("id_token", issued.idToken)
	}
	if decoded.State != "" {
		query.Set("state", decoded.State)
	}
	target.RawQuery = query.Encode()
	return target.String(), nil
}

type issuedTokens struct {
	code        string
	accessToken string
	idToken     string
}

// processFIPUser mirrors the password grant's post-authentication sequence
// with process_fip_user in place of process_end_user, then mints exactly the
// token kinds the original response_type asked for.
func (f *Flow) processFIPUser(ctx context.Context, user map[string]any, decoded *RedirectState) (*issuedTokens, error) {
	provider := f.provider.Name()
	errorMsg := "Failed to process " + provider + " user"

	reg := f.events
	for _, event := range []string{events.GetServiceAccount, events.ProcessFIPUser, events.GenerateToken} {
		if !reg.Has(event) {
			return nil, oauth2err.Newf(oauth2err.InternalServer, "%s. Missing '%s' handler.", errorMsg, event)
		}
	}
	if user == nil {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'user' argument.")
	}
	if id := user["id"]; id == nil || id == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". Missing required 'id' property in the 'user' object.")
	}

	responseTypes, err := parseResponseTypes(decoded.ResponseType)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	scopes := claims.Split(decoded.Scope)
	serviceAccount, err := f.verifyScopes(ctx, decoded.ClientID, scopes)
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	validUser, err := reg.FIPUserResult(ctx, events.Input{
		ClientID: decoded.ClientID,
		Provider: provider,
		User:     user,
		State:    decoded.State,
	})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if validUser == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. Processing the FIP user failed to return any data.")
	}
	if err := claims.VerifyClientID(decoded.ClientID, validUser.ID, validUser.ClientIDs); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}

	in := events.Input{
		ClientID:  decoded.ClientID,
		UserID:    validUser.ID,
		Audiences: serviceAccount.Audiences,
		Scopes:    scopes,
		State:     decoded.State,
	}

	var (
		codeResult, accessResult, idResult *events.TokenResult
		codeErr, accessErr, idErr          error
	)
	var g errgroup.Group
	if responseTypes["code"] {
		g.Go(func() error {
			codeResult, codeErr = reg.GenerateAuthorizationCodeResult(ctx, in)
			return codeErr
		})
	}
	if responseTypes["token"] {
		g.Go(func() error {
			accessResult, accessErr = reg.GenerateAccessTokenResult(ctx, in)
			return accessErr
		})
	}
	if responseTypes["id_token"] {
		g.Go(func() error {
			idResult, idErr = reg.GenerateIDTokenResult(ctx, in)
			return idErr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, oauth2err.WrapAll(errorMsg, codeErr, accessErr, idErr)
	}

	issued := &issuedTokens{}
	if codeResult != nil {
		issued.code = codeResult.Token
	}
	if accessResult != nil {
		issued.accessToken = accessResult.Token
	}
	if idResult != nil {
		issued.idToken = idResult.Token
	}
	return issued, nil
}

func (f *Flow) verifyScopes(ctx context.Context, clientID string, scopes []string) (*events.ServiceAccount, error) {
	errorMsg := "Failed to verify scopes access for client_id " + clientID
	serviceAccount, err := f.events.ServiceAccountResult(ctx, events.Input{ClientID: clientID})
	if err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	if serviceAccount == nil {
		return nil, oauth2err.New(oauth2err.InternalServer, errorMsg+". Corrupted data. The service account could not be resolved.")
	}
	if err := claims.VerifyScopes(scopes, serviceAccount.Scopes); err != nil {
		return nil, oauth2err.Wrap(err, errorMsg)
	}
	return serviceAccount, nil
}

// parseResponseTypes decomposes the response_type parameter ('+' or space
// separated) into the set of requested kinds, all of which must be one of
// code, id_token or token.
func parseResponseTypes(responseType string) (map[string]bool, error) {
	const errorMsg = "Invalid 'response_type'"
	if responseType == "" {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". 'response_type' is required.")
	}
	kinds := map[string]bool{}
	for _, t := range claims.Split(responseType) {
		switch t {
		case "code", "id_token", "token":
			kinds[t] = true
		default:
			return nil, oauth2err.Newf(oauth2err.InvalidRequest,
				"%s. The value '%s' is not a supported OIDC 'response_type'.", errorMsg, responseType)
		}
	}
	if len(kinds) == 0 {
		return nil, oauth2err.New(oauth2err.InvalidRequest, errorMsg+". 'response_type' is required.")
	}
	return kinds, nil
}

// appendErrorToURL attaches the failure to the best known redirect target as
// 'code' (HTTP status) and 'message' (first two causal messages) parameters.
func appendErrorToURL(redirectURI string, err error) string {
	target, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		return ""
	}
	messages := oauth2err.Messages(err)
	if len(messages) > 2 {
		messages = messages[:2]
	}
	query := target.Query()
	query.Set("code", strconv.Itoa(oauth2err.Status(err)))
	query.Set("message", strings.Join(messages, " - "))
	target.RawQuery = query.Encode()
	return target.String()
}

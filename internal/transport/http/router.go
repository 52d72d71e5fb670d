// Package httptransport is the thin HTTP layer over the engine. Handlers
// decode wire parameters, delegate to the domain services and translate
// errors; no protocol logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"authcore/internal/audit"
	"authcore/internal/authorize"
	"authcore/internal/discovery"
	"authcore/internal/introspect"
	"authcore/internal/platform/middleware"
	"authcore/internal/token"
	"authcore/internal/userinfo"
)

// Handler mounts the engine's public endpoints.
type Handler struct {
	token      *token.Service
	introspect *introspect.Service
	userinfo   *userinfo.Service
	flows      map[string]*authorize.Flow
	discovery  *discovery.Builder
	audit      chan<- audit.Event
	limit      func(http.Handler) http.Handler
	logger     *slog.Logger
}

func NewHandler(tokenSvc *token.Service, introspectSvc *introspect.Service, userinfoSvc *userinfo.Service, disc *discovery.Builder, logger *slog.Logger) *Handler {
	return &Handler{
		token:      tokenSvc,
		introspect: introspectSvc,
		userinfo:   userinfoSvc,
		flows:      map[string]*authorize.Flow{},
		discovery:  disc,
		logger:     logger,
	}
}

// SetRateLimit installs a middleware guarding the credential-bearing
// endpoints (token, introspect).
func (h *Handler) SetRateLimit(mw func(http.Handler) http.Handler) {
	h.limit = mw
}

// SetAudit points the handler at an audit inbox. Events are dropped rather
// than blocking a request when the inbox is full.
func (h *Handler) SetAudit(inbox chan<- audit.Event) {
	h.audit = inbox
}

func (h *Handler) record(r *http.Request, event audit.Event) {
	if h.audit == nil {
		return
	}
	meta := middleware.GetClientMeta(r.Context())
	event.Browser = meta.Browser
	event.OS = meta.OS
	select {
	case h.audit <- event:
	default:
	}
}

// AddProvider mounts a federated provider's redirect dance under
// /{provider}/authorize and /{provider}/authorizecallback.
func (h *Handler) AddProvider(name string, flow *authorize.Flow) {
	h.flows[name] = flow
	if h.discovery != nil {
		h.discovery.AddAuthorizeEndpoint(name, "/"+name+"/authorize")
	}
}

// Register wires every endpoint onto the router.
func (h *Handler) Register(r chi.Router) {
	guarded := r
	if h.limit != nil {
		guarded = r.With(h.limit)
	}
	guarded.Post("/oauth2/token", h.handleToken)
	guarded.Post("/oauth2/introspect", h.handleIntrospect)
	r.Get("/oauth2/userinfo", h.handleUserinfo)
	r.Get("/.well-known/openid-configuration", h.handleDiscovery)
	r.Get("/{provider}/authorize", h.handleAuthorize)
	r.Get("/{provider}/authorizecallback", h.handleAuthorizeCallback)
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeTokenPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	response, err := h.token.Handle(r.Context(), payload)
	h.record(r, audit.Event{
		Action:    audit.ActionToken,
		ClientID:  payload.ClientID,
		GrantType: payload.GrantType,
		Outcome:   audit.Outcome(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	payload, err := decodeIntrospectPayload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	response, err := h.introspect.Handle(r.Context(), payload)
	h.record(r, audit.Event{
		Action:   audit.ActionIntrospect,
		ClientID: payload.ClientID,
		Outcome:  audit.Outcome(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	identity, err := h.userinfo.Handle(r.Context(), r.Header.Get("Authorization"))
	h.record(r, audit.Event{
		Action:  audit.ActionUserinfo,
		Outcome: audit.Outcome(err),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.discovery.Document())
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	flow, ok := h.flows[provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	consentURL, err := flow.Authorize(r.Context(), authorize.AuthorizeRequest{
		ClientID:     query.Get("client_id"),
		ResponseType: query.Get("response_type"),
		RedirectURI:  query.Get("redirect_uri"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
		CallbackURL:  callbackURL(r, provider),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, consentURL, http.StatusFound)
}

func (h *Handler) handleAuthorizeCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	flow, ok := h.flows[provider]
	if !ok {
		http.NotFound(w, r)
		return
	}

	query := r.URL.Query()
	redirectURL, err := flow.Callback(r.Context(), authorize.CallbackRequest{
		Code:  query.Get("code"),
		State: query.Get("state"),
	})
	h.record(r, audit.Event{
		Action:   audit.ActionFIPLogin,
		Provider: provider,
		Outcome:  audit.Outcome(err),
	})
	if err != nil && redirectURL == "" {
		// No redirect target is known; a direct error is the only option.
		writeError(w, err)
		return
	}
	// On failure with a known target the error already rides the URL's query.
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// callbackURL rebuilds the absolute callback endpoint from the inbound
// request, honoring the proxy protocol header.
func callbackURL(r *http.Request, provider string) string {
	scheme := "https"
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + "/" + provider + "/authorizecallback"
}

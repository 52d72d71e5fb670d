package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"authcore/internal/claims"
	"authcore/pkg/oauth2err"
)

var (
	execDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authcore_event_exec_duration_ms",
		Help:    "Latency of event handler chain executions in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
	}, []string{"event"})

	execErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authcore_event_exec_errors_total",
		Help: "Total number of event handler chain executions that failed",
	}, []string{"event"})
)

// Registry maps event names to ordered handler chains. Composite token
// events (generate_access_token, generate_refresh_token, generate_id_token,
// generate_authorization_code) are pre-registered at construction and go
// through the same Exec mechanism as everything else; they bottom out in the
// integrator's generate_token and get_identity_claims primitives.
type Registry struct {
	mu     sync.RWMutex
	chains map[string][]Handler
	issuer string
	expiry map[string]int64
	logger *slog.Logger
}

// New builds a registry with the composite token handlers pre-registered.
// The default iss claim comes from the ISS environment variable until a
// strategy config overrides it.
func New(logger *slog.Logger) *Registry {
	r := &Registry{
		chains: make(map[string][]Handler, len(supported)),
		issuer: os.Getenv("ISS"),
		expiry: make(map[string]int64),
		logger: logger,
	}
	registerBuiltins(r)
	return r
}

// SetIssuer overrides the iss claim used by the composite token handlers.
func (r *Registry) SetIssuer(issuer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if issuer != "" {
		r.issuer = issuer
	}
}

// SetTokenExpiry installs the per-kind token lifetimes (seconds) used by the
// composite token handlers. A kind without an entry produces claims without
// iat/exp, leaving expiry to the generate_token handler.
func (r *Registry) SetTokenExpiry(expiry map[string]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, seconds := range expiry {
		r.expiry[kind] = seconds
	}
}

// Register appends handler to the chain for event. Unknown event names are
// an integration defect and fail loudly.
func (r *Registry) Register(event string, handler Handler) error {
	if event == "" {
		return oauth2err.New(oauth2err.InternalServer, "Missing required 'eventName'")
	}
	if handler == nil {
		return oauth2err.New(oauth2err.InternalServer, "Missing required 'handler'")
	}
	if !IsSupported(event) {
		return oauth2err.Newf(oauth2err.InternalServer, "Invalid 'eventName'. '%s' is not supported.", event)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[event] = append(r.chains[event], handler)
	return nil
}

// Has reports whether at least one handler is registered for event.
func (r *Registry) Has(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chains[event]) > 0
}

// Exec runs the chain for event sequentially, threading each handler's
// non-nil result into the next handler. The final non-nil result is the
// chain's result; an empty chain yields (nil, nil). The first handler error
// stops execution and comes back wrapped with the event name.
func (r *Registry) Exec(ctx context.Context, event string, in Input) (any, error) {
	r.mu.RLock()
	chain := r.chains[event]
	r.mu.RUnlock()

	start := time.Now()
	defer func() {
		execDurationMs.WithLabelValues(event).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	var result any
	for _, handler := range chain {
		intermediate, err := handler(ctx, result, in)
		if err != nil {
			execErrors.WithLabelValues(event).Inc()
			if r.logger != nil {
				r.logger.DebugContext(ctx, "event handler failed",
					"event", event,
					"error", err.Error(),
				)
			}
			return nil, oauth2err.Wrap(err, "Event '"+event+"' failed")
		}
		if intermediate != nil {
			result = intermediate
		}
	}
	return result, nil
}

func (r *Registry) issuerAndExpiry(kind string) (string, int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seconds, ok := r.expiry[kind]
	return r.issuer, seconds, ok
}

// ---------------------------------------------------------------------------
// Typed accessors. Handlers are untyped so chains stay uniform; flows go
// through these to get their results back with the types the protocol needs.
// ---------------------------------------------------------------------------

func asTokenResult(event string, v any) (*TokenResult, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *TokenResult:
		return t, nil
	case TokenResult:
		return &t, nil
	default:
		return nil, oauth2err.Newf(oauth2err.InternalServer, "Event '%s' returned an unexpected result type", event)
	}
}

func asClaims(event string, v any) (claims.Claims, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case claims.Claims:
		return c, nil
	case map[string]any:
		return claims.Claims(c), nil
	default:
		return nil, oauth2err.Newf(oauth2err.InternalServer, "Event '%s' returned an unexpected result type", event)
	}
}

func asUser(event string, v any) (*User, error) {
	switch u := v.(type) {
	case nil:
		return nil, nil
	case *User:
		return u, nil
	case User:
		return &u, nil
	default:
		return nil, oauth2err.Newf(oauth2err.InternalServer, "Event '%s' returned an unexpected result type", event)
	}
}

func (r *Registry) execToken(ctx context.Context, event string, in Input) (*TokenResult, error) {
	v, err := r.Exec(ctx, event, in)
	if err != nil {
		return nil, err
	}
	return asTokenResult(event, v)
}

// GenerateAccessTokenResult executes the generate_access_token composite.
func (r *Registry) GenerateAccessTokenResult(ctx context.Context, in Input) (*TokenResult, error) {
	return r.execToken(ctx, GenerateAccessToken, in)
}

// GenerateRefreshTokenResult executes the generate_refresh_token composite.
func (r *Registry) GenerateRefreshTokenResult(ctx context.Context, in Input) (*TokenResult, error) {
	return r.execToken(ctx, GenerateRefreshToken, in)
}

// GenerateIDTokenResult executes the generate_id_token composite.
func (r *Registry) GenerateIDTokenResult(ctx context.Context, in Input) (*TokenResult, error) {
	return r.execToken(ctx, GenerateIDToken, in)
}

// GenerateAuthorizationCodeResult executes the generate_authorization_code
// composite.
func (r *Registry) GenerateAuthorizationCodeResult(ctx context.Context, in Input) (*TokenResult, error) {
	return r.execToken(ctx, GenerateAuthorizationCode, in)
}

// ServiceAccountResult executes get_service_account.
func (r *Registry) ServiceAccountResult(ctx context.Context, in Input) (*ServiceAccount, error) {
	v, err := r.Exec(ctx, GetServiceAccount, in)
	if err != nil {
		return nil, err
	}
	switch a := v.(type) {
	case nil:
		return nil, nil
	case *ServiceAccount:
		return a, nil
	case ServiceAccount:
		return &a, nil
	default:
		return nil, oauth2err.Newf(oauth2err.InternalServer, "Event '%s' returned an unexpected result type", GetServiceAccount)
	}
}

// EndUserResult executes process_end_user.
func (r *Registry) EndUserResult(ctx context.Context, in Input) (*User, error) {
	v, err := r.Exec(ctx, ProcessEndUser, in)
	if err != nil {
		return nil, err
	}
	return asUser(ProcessEndUser, v)
}

// FIPUserResult executes process_fip_user.
func (r *Registry) FIPUserResult(ctx context.Context, in Input) (*User, error) {
	v, err := r.Exec(ctx, ProcessFIPUser, in)
	if err != nil {
		return nil, err
	}
	return asUser(ProcessFIPUser, v)
}

// TokenClaimsResult executes get_token_claims.
func (r *Registry) TokenClaimsResult(ctx context.Context, in Input) (claims.Claims, error) {
	v, err := r.Exec(ctx, GetTokenClaims, in)
	if err != nil {
		return nil, err
	}
	return asClaims(GetTokenClaims, v)
}

// IdentityClaimsResult executes get_identity_claims.
func (r *Registry) IdentityClaimsResult(ctx context.Context, in Input) (claims.Claims, error) {
	v, err := r.Exec(ctx, GetIdentityClaims, in)
	if err != nil {
		return nil, err
	}
	return asClaims(GetIdentityClaims, v)
}

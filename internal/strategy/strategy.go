package strategy

import (
	"context"
	"errors"
	"fmt"

	"authcore/internal/claims"
	"authcore/internal/events"
)

// Strategy is the root contract. Operations beyond Name and Config are
// optional capabilities, discovered by interface assertion and checked
// against the mode→required-event table at verification time.
type Strategy interface {
	Name() string
	Config() *Config
}

// Optional capabilities. Each maps 1:1 to a registrable event.

// TokenGenerator mints (or persists) a token of the requested kind for a
// fully assembled claim set.
type TokenGenerator interface {
	GenerateToken(ctx context.Context, in events.Input) (*events.TokenResult, error)
}

// EndUserProcessor verifies (or signs up) an end user from credentials.
type EndUserProcessor interface {
	ProcessEndUser(ctx context.Context, in events.Input) (*events.User, error)
}

// FIPUserProcessor exchanges a federated identity for an internal user.
type FIPUserProcessor interface {
	ProcessFIPUser(ctx context.Context, in events.Input) (*events.User, error)
}

// ServiceAccountProvider looks up the client record, authenticating the
// client when a secret is supplied.
type ServiceAccountProvider interface {
	GetServiceAccount(ctx context.Context, in events.Input) (*events.ServiceAccount, error)
}

// TokenClaimsProvider resolves a raw token back into its claim set.
type TokenClaimsProvider interface {
	GetTokenClaims(ctx context.Context, in events.Input) (claims.Claims, error)
}

// IdentityClaimsProvider returns the identity claims a scope set entitles a
// client to see about a user.
type IdentityClaimsProvider interface {
	GetIdentityClaims(ctx context.Context, in events.Input) (claims.Claims, error)
}

// capability glues an event name to its detection and registration.
type capability struct {
	implemented func(Strategy) bool
	register    func(*events.Registry, Strategy) error
}

var capabilities = map[string]capability{
	events.GenerateToken: {
		implemented: func(s Strategy) bool { _, ok := s.(TokenGenerator); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(TokenGenerator)
			return r.Register(events.GenerateToken, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.GenerateToken(ctx, in)
			})
		},
	},
	events.ProcessEndUser: {
		implemented: func(s Strategy) bool { _, ok := s.(EndUserProcessor); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(EndUserProcessor)
			return r.Register(events.ProcessEndUser, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.ProcessEndUser(ctx, in)
			})
		},
	},
	events.ProcessFIPUser: {
		implemented: func(s Strategy) bool { _, ok := s.(FIPUserProcessor); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(FIPUserProcessor)
			return r.Register(events.ProcessFIPUser, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.ProcessFIPUser(ctx, in)
			})
		},
	},
	events.GetServiceAccount: {
		implemented: func(s Strategy) bool { _, ok := s.(ServiceAccountProvider); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(ServiceAccountProvider)
			return r.Register(events.GetServiceAccount, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.GetServiceAccount(ctx, in)
			})
		},
	},
	events.GetTokenClaims: {
		implemented: func(s Strategy) bool { _, ok := s.(TokenClaimsProvider); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(TokenClaimsProvider)
			return r.Register(events.GetTokenClaims, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.GetTokenClaims(ctx, in)
			})
		},
	},
	events.GetIdentityClaims: {
		implemented: func(s Strategy) bool { _, ok := s.(IdentityClaimsProvider); return ok },
		register: func(r *events.Registry, s Strategy) error {
			impl := s.(IdentityClaimsProvider)
			return r.Register(events.GetIdentityClaims, func(ctx context.Context, _ any, in events.Input) (any, error) {
				return impl.GetIdentityClaims(ctx, in)
			})
		},
	},
}

// eventsByMode is the capability requirement table. loginsignupfip is a
// strict superset of loginsignup; openid stands on its own feet.
var eventsByMode = map[Mode][]string{
	ModeLoginSignup: {
		events.GenerateToken,
		events.ProcessEndUser,
		events.GetServiceAccount,
	},
	ModeLoginSignupFIP: {
		events.GenerateToken,
		events.ProcessEndUser,
		events.GetServiceAccount,
		events.ProcessFIPUser,
		events.GetTokenClaims,
	},
	ModeOpenID: {
		events.GenerateToken,
		events.ProcessEndUser,
		events.GetServiceAccount,
		events.GetTokenClaims,
		events.GetIdentityClaims,
	},
}

// RequiredEvents computes the union of event names the given modes demand.
// Order is stable: mode declaration order, then table order.
func RequiredEvents(modes []Mode) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, mode := range modes {
		for _, event := range eventsByMode[mode] {
			if _, ok := seen[event]; ok {
				continue
			}
			seen[event] = struct{}{}
			out = append(out, event)
		}
	}
	return out
}

// requiringMode names the first declared mode that demands event; used to
// make verification failures actionable.
func requiringMode(modes []Mode, event string) Mode {
	for _, mode := range modes {
		for _, e := range eventsByMode[mode] {
			if e == event {
				return mode
			}
		}
	}
	return ""
}

// Verify checks that s implements every operation its declared modes
// require. It enumerates all missing operations in one failure rather than
// stopping at the first, so an integrator fixes a broken setup in one pass.
func Verify(s Strategy) error {
	if s == nil {
		return fmt.Errorf("%w: strategy is not defined", ErrInvalidConfig)
	}
	if s.Name() == "" {
		return fmt.Errorf("%w: strategy is missing its required 'name'", ErrInvalidConfig)
	}
	cfg := s.Config()
	if cfg == nil {
		return fmt.Errorf("%w: strategy '%s' has no configuration", ErrInvalidConfig, s.Name())
	}

	modes := cfg.NormalizedModes()
	if len(modes) == 0 {
		// Config was never validated; do not guess at its meaning.
		return fmt.Errorf("%w: strategy '%s' configuration was not validated", ErrInvalidConfig, s.Name())
	}

	var problems []error
	for _, event := range RequiredEvents(modes) {
		impl, ok := capabilities[event]
		if !ok {
			continue
		}
		if !impl.implemented(s) {
			problems = append(problems, fmt.Errorf(
				"strategy '%s' is missing its '%s' event handler implementation (required by mode '%s')",
				s.Name(), event, requiringMode(modes, event)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
	}
	return nil
}

// Register verifies s and installs every capability it implements on the
// registry, required ones and any extra the strategy happens to provide.
// It also points the composite token handlers at the strategy's issuer and
// token lifetimes.
func Register(r *events.Registry, s Strategy) error {
	if err := Verify(s); err != nil {
		return err
	}

	cfg := s.Config()
	r.SetIssuer(cfg.Issuer())
	r.SetTokenExpiry(cfg.ExpirySeconds())

	for _, event := range events.Supported() {
		impl, ok := capabilities[event]
		if !ok {
			continue
		}
		if !impl.implemented(s) {
			continue
		}
		if err := impl.register(r, s); err != nil {
			return err
		}
	}
	return nil
}

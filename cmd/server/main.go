package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"

	"authcore/internal/audit"
	"authcore/internal/authorize"
	"authcore/internal/discovery"
	"authcore/internal/events"
	"authcore/internal/introspect"
	"authcore/internal/local"
	"authcore/internal/local/store"
	"authcore/internal/platform/config"
	"authcore/internal/platform/httpserver"
	"authcore/internal/platform/logger"
	"authcore/internal/platform/metrics"
	"authcore/internal/platform/middleware"
	platformredis "authcore/internal/platform/redis"
	"authcore/internal/ratelimit"
	"authcore/internal/strategy"
	"authcore/internal/token"
	httptransport "authcore/internal/transport/http"
	"authcore/internal/userinfo"
)

// main wires the engine: config, the built-in strategy over the configured
// stores, the event registry and the HTTP surface. Protocol logic lives in
// the internal services; this file only assembles them.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	strategyCfg, err := buildStrategyConfig(cfg)
	if err != nil {
		log.Error("invalid strategy configuration", "error", err.Error())
		os.Exit(1)
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to redis", "error", err.Error())
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	users, clients, tokens, cleanup, err := buildStores(ctx, cfg, redisClient)
	if err != nil {
		log.Error("failed to initialize stores", "error", err.Error())
		os.Exit(1)
	}
	defer cleanup()

	registry := events.New(log)
	builtin := local.New("local", strategyCfg, []byte(cfg.JWTSigningKey), users, clients, tokens)
	if err := strategy.Register(registry, builtin); err != nil {
		log.Error("failed to register strategy", "error", err.Error())
		os.Exit(1)
	}
	if cfg.Issuer != "" {
		registry.SetIssuer(cfg.Issuer)
	}

	issuer := strategyCfg.Issuer()
	if cfg.Issuer != "" {
		issuer = cfg.Issuer
	}

	handler := httptransport.NewHandler(
		token.New(registry, log),
		introspect.New(registry, log),
		userinfo.New(registry, log),
		discovery.NewBuilder(issuer),
		log,
	)

	if cfg.FIP.Name != "" {
		provider := authorize.NewOAuth2Provider(authorize.OAuth2Config{
			Name:         cfg.FIP.Name,
			ClientID:     cfg.FIP.ClientID,
			ClientSecret: cfg.FIP.ClientSecret,
			AuthURL:      cfg.FIP.AuthURL,
			TokenURL:     cfg.FIP.TokenURL,
			UserInfoURL:  cfg.FIP.UserInfoURL,
			Scopes:       cfg.FIP.Scopes,
		})
		handler.AddProvider(cfg.FIP.Name, authorize.NewFlow(provider, registry, log))
		log.Info("federated identity provider mounted", "provider", cfg.FIP.Name)
	}

	var limitStore ratelimit.Store = ratelimit.NewMemoryStore()
	if redisClient != nil {
		limitStore = ratelimit.NewRedisStore(redisClient, "")
	}
	handler.SetRateLimit(ratelimit.Middleware(limitStore, int(cfg.TokenRateLimit), time.Minute, log))

	auditInbox := make(chan audit.Event, 256)
	auditWorker := audit.NewWorker(audit.NewPublisher(audit.NewMemoryStore()), auditInbox)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("audit worker stopped", "error", err.Error())
		}
	}()
	handler.SetAudit(auditInbox)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.ClientMetadata,
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		metrics.TrackInFlight,
	)
	handler.Register(router)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.Addr, "issuer", issuer)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

func buildStrategyConfig(cfg config.Server) (*strategy.Config, error) {
	expiry := strategy.TokenExpiry{
		AccessToken: strategy.Seconds(cfg.AccessTokenTTL),
		IDToken:     strategy.Seconds(cfg.IDTokenTTL),
		Code:        strategy.Seconds(cfg.CodeTTL),
	}
	if cfg.RefreshTokenTTL > 0 {
		ttl := strategy.Seconds(cfg.RefreshTokenTTL)
		expiry.RefreshToken = &ttl
	}
	return strategy.Config{
		Modes:       cfg.Modes,
		BaseURL:     cfg.BaseURL,
		ConsentPage: cfg.ConsentPage,
		TokenExpiry: expiry,
	}.Validate()
}

// buildStores selects the persistence backends: postgres for users and
// clients when DATABASE_URL is set, redis for tokens when a redis client is
// available, in-memory otherwise.
func buildStores(ctx context.Context, cfg config.Server, redisClient *platformredis.Client) (store.UserStore, store.ClientStore, store.TokenStore, func(), error) {
	var (
		users    store.UserStore   = store.NewMemoryUserStore()
		clients  store.ClientStore = store.NewMemoryClientStore()
		tokens   store.TokenStore  = store.NewMemoryTokenStore()
		cleanups []func()
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, err
		}
		if _, err := db.ExecContext(ctx, store.Schema); err != nil {
			_ = db.Close()
			return nil, nil, nil, nil, err
		}
		users = store.NewPostgresUserStore(db)
		clients = store.NewPostgresClientStore(db)
		cleanups = append(cleanups, func() { _ = db.Close() })
	}

	if redisClient != nil {
		tokens = store.NewRedisTokenStore(redisClient, "")
	}

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return users, clients, tokens, cleanup, nil
}

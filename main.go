package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/acquire"
	"github.com/cachebridge/cachebridge/internal/audit"
	"github.com/cachebridge/cachebridge/internal/cachesync"
	"github.com/cachebridge/cachebridge/internal/challenge"
	"github.com/cachebridge/cachebridge/internal/config"
	"github.com/cachebridge/cachebridge/internal/jwt"
	"github.com/cachebridge/cachebridge/internal/observe"
	"github.com/cachebridge/cachebridge/internal/server"
	"github.com/cachebridge/cachebridge/internal/store"
)

func configureServerRoutes(ctx context.Context, cfg config.Config, hooks *server.ShutdownHooks) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	// configure middleware
	authorizer, err := jwt.Middleware(cfg.Authorization)
	if err != nil {
		return nil, fmt.Errorf("authorizer configuration failed: %w", err)
	}

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	authorizedRouteMiddleware := alice.New(requestLimiter, sessionContext(), authorizer, audit.Middleware())
	standardRouteMiddleware := alice.New(requestLimiter)

	// setup the synchronized token cache and its consumers
	blobStore, err := store.NewFromConfig(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("cache store configuration failed: %w", err)
	}
	hooks.Add("cache store", blobStore.Close)

	resolver, err := cachesync.NewKeyResolver(cfg.Challenge.ClientID, cachesync.KeyStrategy(cfg.Cache.KeyStrategy))
	if err != nil {
		return nil, fmt.Errorf("cache key resolver configuration failed: %w", err)
	}

	syncOpts := []cachesync.Option{cachesync.WithLockTimeout(cfg.Cache.LockTimeout)}
	if cfg.Cache.StrictReads {
		syncOpts = append(syncOpts, cachesync.WithStrictReads())
	}
	synchronizer := cachesync.New(blobStore, resolver, syncOpts...)

	tokenSource := acquire.NewSource(synchronizer, developmentExchanger(cfg.Challenge))
	todos := newTodoStore()

	mux.Handle("GET /todos", authorizedRouteMiddleware.Then(handleGetTodos(tokenSource, todos, cfg.Challenge)))
	mux.Handle("POST /todos", authorizedRouteMiddleware.Then(handlePostTodo(tokenSource, todos, cfg.Challenge)))
	mux.Handle("POST /signout", authorizedRouteMiddleware.Then(handleSignOut(tokenSource)))

	// healthchecks are not included in telemetry or authorization
	muxWithoutTelemetry.Handle("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux, nil
}

// developmentExchanger mints short-lived opaque tokens locally. It is
// the injection point for a real on-behalf-of exchange against an
// identity provider; the rest of the service is agnostic to which is
// wired.
func developmentExchanger(cfg config.ChallengeConfig) acquire.Exchanger {
	return func(ctx context.Context, assertion string, scopes []string) (acquire.Token, error) {
		if assertion == "" {
			return acquire.Token{}, &challenge.AcquireError{
				Code:    challenge.CodeInteractionRequired,
				Message: "no inbound credential to exchange",
			}
		}

		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return acquire.Token{}, fmt.Errorf("minting development token: %w", err)
		}

		return acquire.Token{
			Value:  hex.EncodeToString(raw),
			Scopes: scopes,
			Expiry: time.Now().Add(30 * time.Minute),
		}, nil
	}
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	hooks := &server.ShutdownHooks{}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}
	hooks.AddContext("telemetry", shutdownTelemetry)

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg, hooks)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	err = server.Serve(cfg.Server, srv, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdict-labs/verdict-go/internal/engine"
	"github.com/verdict-labs/verdict-go/internal/engine/checks"
	"github.com/verdict-labs/verdict-go/internal/engine/cost"
	"github.com/verdict-labs/verdict-go/internal/export"
	"github.com/verdict-labs/verdict-go/internal/invoker"
	anthropicprovider "github.com/verdict-labs/verdict-go/internal/invoker/anthropic"
	openaiprovider "github.com/verdict-labs/verdict-go/internal/invoker/openai"
	"github.com/verdict-labs/verdict-go/internal/platform/auth"
	"github.com/verdict-labs/verdict-go/internal/platform/env"
	"github.com/verdict-labs/verdict-go/internal/platform/httpserver"
	"github.com/verdict-labs/verdict-go/internal/platform/objectstore"
	"github.com/verdict-labs/verdict-go/internal/platform/postgres"
	repopg "github.com/verdict-labs/verdict-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("EVALUATIONS_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("EVALUATIONS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = objectstore.EnsureBucket(startupCtx, storeClient, storeCfg)
	cancel()
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	store, err := objectstore.NewStore(storeClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}
	exporter, err := export.NewExporter(logger, store, storeCfg.BucketExports)
	if err != nil {
		logger.Error("exporter init failed", "error", err)
		os.Exit(2)
	}

	modelRouter, err := buildModelRouter(logger)
	if err != nil {
		logger.Error("invalid invoker config", "error", err)
		os.Exit(2)
	}

	pricing, err := loadPricing(logger)
	if err != nil {
		logger.Error("invalid pricing table", "error", err)
		os.Exit(2)
	}

	registryOpts := []checks.Option{}
	if judgeModel := env.String("EVAL_JUDGE_MODEL", ""); judgeModel != "" {
		registryOpts = append(registryOpts, checks.WithJudge(modelRouter, judgeModel))
	}
	registry := checks.NewRegistry(registryOpts...)

	maxConcurrency, err := env.Int("EVAL_MAX_CONCURRENCY", 0)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	evaluationStore := repopg.NewEvaluationStore(db)
	resultStore := repopg.NewResultStore(db)
	checklistStore := repopg.NewChecklistStore(db)
	datasetStore := repopg.NewDatasetStore(db)

	orchestrator, err := engine.New(engine.Params{
		Logger:         logger,
		Evaluations:    evaluationStore,
		Results:        resultStore,
		Checklists:     checklistStore,
		Datasets:       datasetStore,
		Invoker:        modelRouter,
		Checks:         registry,
		Pricing:        pricing,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		logger.Error("engine init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("evaluations"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"evaluations",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newEvaluationsAPI(logger, orchestrator, checklistStore, exporter)
	api.register(mux)

	handler, err := wrapAuth(ctx, logger, mux)
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	cfg := httpserver.Config{
		Service:         "evaluations",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "evaluations", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildModelRouter registers a provider per configured backend, each behind
// its own rate limiter. Model ids dispatch by prefix.
func buildModelRouter(logger *slog.Logger) (*invoker.Router, error) {
	rpm, err := env.Int("EVAL_PROVIDER_RPM", 300)
	if err != nil {
		return nil, err
	}
	burst, err := env.Int("EVAL_PROVIDER_BURST", 10)
	if err != nil {
		return nil, err
	}

	limited := func(p invoker.Provider) (invoker.Provider, error) {
		if rpm <= 0 {
			return p, nil
		}
		return invoker.NewRateLimitedProvider(p, invoker.RateLimiterConfig{
			RequestsPerMinute: rpm,
			Burst:             burst,
		})
	}

	router := invoker.NewRouter()
	registered := 0

	if key := env.String("OPENAI_API_KEY", ""); key != "" {
		provider, err := limited(openaiprovider.New(func(o *openaiprovider.Options) {
			o.APIKey = key
		}))
		if err != nil {
			return nil, err
		}
		router.Register("gpt-", provider)
		router.Register("o1", provider)
		registered++
	}
	if key := env.String("ANTHROPIC_API_KEY", ""); key != "" {
		provider, err := limited(anthropicprovider.New(func(o *anthropicprovider.Options) {
			o.APIKey = key
		}))
		if err != nil {
			return nil, err
		}
		router.Register("claude-", provider)
		registered++
	}

	mock, err := env.Bool("EVAL_MOCK_PROVIDER", false)
	if err != nil {
		return nil, err
	}
	if mock {
		router.SetFallback(invoker.NewMockProvider())
		logger.Warn("mock model provider enabled as fallback")
		registered++
	}
	if registered == 0 {
		return nil, errors.New("no model provider configured: set OPENAI_API_KEY, ANTHROPIC_API_KEY, or EVAL_MOCK_PROVIDER=true")
	}

	logger.Info("model router ready", "providers", registered, "rpm", rpm)
	return router, nil
}

func loadPricing(logger *slog.Logger) (*cost.Table, error) {
	path := env.String("EVAL_PRICING_FILE", "")
	if path == "" {
		return cost.DefaultTable(), nil
	}
	table, err := cost.LoadTable(path)
	if err != nil {
		return nil, err
	}
	logger.Info("pricing table loaded", "path", path)
	return table, nil
}

func wrapAuth(ctx context.Context, logger *slog.Logger, mux *http.ServeMux) (http.Handler, error) {
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	skip := []string{"/healthz", "/readyz", "/auth/"}
	middleware := auth.Middleware{
		Logger:         logger,
		Authorize:      auth.MethodRoleAuthorizer(),
		ProjectResolve: auth.RequireProjectIDResolver(skip),
		SkipPrefixes:   skip,
	}

	switch authCfg.Mode {
	case auth.ModeOIDC:
		oidcService, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			return nil, err
		}
		login, err := oidcService.LoginHandler()
		if err == nil {
			callback, cbErr := oidcService.CallbackHandler()
			if cbErr != nil {
				return nil, cbErr
			}
			mux.HandleFunc("GET /auth/login", login)
			mux.HandleFunc("GET /auth/callback", callback)
			mux.HandleFunc("POST /auth/logout", oidcService.LogoutHandler())
			mux.HandleFunc("GET /auth/session", oidcService.SessionHandler())
		} else {
			// Bearer-token only deployment: no client secret or redirect URL.
			logger.Info("oidc login endpoints disabled", "reason", err.Error())
		}
		middleware.Authenticator = oidcService
	case auth.ModeDev:
		middleware.Authenticator = auth.NewDevAuthenticator(authCfg)
		logger.Warn("dev auth mode enabled")
	case auth.ModeDisabled:
		// No identity, no role checks; project scoping still applies.
		middleware.Authenticator = anonymousAuthenticator{}
		middleware.Authorize = nil
		logger.Warn("auth disabled")
	}

	return middleware.Wrap(mux), nil
}

type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(ctx context.Context, r *http.Request) (auth.Identity, error) {
	return auth.Identity{Subject: "anonymous"}, nil
}

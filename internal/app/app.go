// Package app wires configuration, storage, the compiled catalog and the
// services behind the HTTP API and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"apitables/internal/api"
	"apitables/internal/catalog"
	"apitables/internal/config"
	"apitables/internal/db/repository"
	"apitables/internal/domain"
	"apitables/internal/engine"
	"apitables/internal/marshal"
	"apitables/internal/middleware"
	"apitables/internal/service/tables"
	"apitables/internal/specsource"
	"apitables/internal/upstream"
)

// Deps holds the external dependencies main() provides.
type Deps struct {
	Cfg *config.Config
	// WriteDB is the metastore write pool. Nil disables fetch history.
	WriteDB *sql.DB
	// ReadDB serves history listings; nil reads through WriteDB.
	ReadDB *sql.DB
	// HTTPClient overrides the upstream client built from Cfg.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// App is the fully wired application.
type App struct {
	Catalog   *catalog.Holder
	Refresher *catalog.Refresher // nil when no refresh schedule is configured
	Tables    *tables.Service
	Handler   *api.Handler
	History   *repository.FetchHistoryRepo // nil without a metastore

	cfg    *config.Config
	auth   middleware.TokenValidator
	logger *slog.Logger
}

// New loads and compiles the document, then wires every component.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// === Catalog ===
	loader := specsource.NewFromConfig(cfg, logger)
	doc, err := loader.Load(ctx, cfg.SpecLocation)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	cat, err := catalog.Build(doc)
	if err != nil {
		return nil, err
	}
	holder := catalog.NewHolder(cat)
	logger.Info("catalog compiled", "source", cat.Source(), "tables", len(tableNames(cat)))

	var refresher *catalog.Refresher
	if cfg.Spec.RefreshCron != "" {
		refresher = catalog.NewRefresher(holder, loader, cfg.SpecLocation, cfg.Spec.RefreshCron, logger)
	}

	// === Upstream ===
	client := deps.HTTPClient
	if client == nil {
		if client, err = upstream.NewClient(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	opts := []marshal.Option{
		marshal.WithSecurity(cat.Security()),
		marshal.WithParallelism(cfg.Fetch.Parallelism),
		marshal.WithLogger(logger.With("component", "marshal")),
	}
	if cfg.Adapter.Script != "" {
		adapter, err := marshal.LoadAdapter(cfg.Adapter.Script, cfg.Adapter.MaxSteps, cfg.Adapter.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, marshal.WithAdapter(adapter))
	}
	fetcher, err := marshal.NewFetcher(client, cfg.BaseURI, opts...)
	if err != nil {
		return nil, err
	}

	// === History ===
	var history *repository.FetchHistoryRepo
	var historyPort domain.FetchHistoryRepository
	if deps.WriteDB != nil {
		history = repository.NewFetchHistoryRepo(deps.WriteDB).WithReadPool(deps.ReadDB)
		historyPort = history
	}

	eng := engine.New(engine.WithLogger(logger))
	svc := tables.New(holder, fetcher, eng, historyPort, logger)

	if history != nil && cfg.HistoryRetention > 0 {
		n, err := svc.PurgeFetches(ctx, cfg.HistoryRetention)
		if err != nil {
			logger.Warn("purge fetch history failed", "error", err)
		} else if n > 0 {
			logger.Info("purged fetch history", "rows", n, "retention", cfg.HistoryRetention)
		}
	}

	validator, err := tokenValidator(ctx, cfg.Server)
	if err != nil {
		return nil, err
	}

	return &App{
		Catalog:   holder,
		Refresher: refresher,
		Tables:    svc,
		Handler:   api.NewHandler(svc, logger),
		History:   history,
		cfg:       cfg,
		auth:      validator,
		logger:    logger,
	}, nil
}

// Start begins background work: the catalog refresh schedule.
func (a *App) Start(ctx context.Context) error {
	if a.Refresher == nil {
		return nil
	}
	return a.Refresher.Start(ctx)
}

// Stop halts background work.
func (a *App) Stop() {
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
}

// Router builds the HTTP router. /healthz is public; /v1 requires a bearer
// token when server auth is configured.
func (a *App) Router() http.Handler {
	s := a.cfg.Server
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(a.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.Handler.Health)
	r.Route("/v1", func(r chi.Router) {
		if a.auth != nil {
			r.Use(middleware.NewAuthenticator(a.auth, "sub", a.logger).Middleware())
		}
		r.Use(middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: s.RateLimitRPS,
			Burst:             s.RateLimitBurst,
		}).Middleware())
		a.Handler.Routes(r)
	})
	return r
}

func tokenValidator(ctx context.Context, s config.ServerConfig) (middleware.TokenValidator, error) {
	switch {
	case s.IssuerURL != "":
		v, err := middleware.NewOIDCValidator(ctx, s.IssuerURL, s.Audience)
		if err != nil {
			return nil, err
		}
		return v, nil
	case s.JWTSecret != "":
		v, err := middleware.NewSharedSecretValidator(s.JWTSecret, s.Audience)
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, nil
	}
}

// requestLogger logs one line per request at info.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", w.Header().Get(middleware.RequestIDHeader),
			)
		})
	}
}

func tableNames(c *catalog.Catalog) []string {
	names, err := c.ListTables(domain.DefaultSchema)
	if err != nil {
		return nil
	}
	return names
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info("http api listening", "addr", srv.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/vehicle-tax-portal/internal/config"
	"github.com/boddenberg/vehicle-tax-portal/internal/domain"
	"github.com/boddenberg/vehicle-tax-portal/internal/handler"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/cache"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/catalog"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/client"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/gemini"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/observability"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/postgres"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/receipt"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/resilience"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/slack"
	"github.com/boddenberg/vehicle-tax-portal/internal/infra/stripe"
	"github.com/boddenberg/vehicle-tax-portal/internal/port"
	"github.com/boddenberg/vehicle-tax-portal/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("ai_backend", cfg.AIBackend),
		zap.String("tax_catalog_file", cfg.TaxCatalogFile),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Duration("tax_type_cache_ttl", cfg.TaxTypeCacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("auth_enabled", cfg.AuthEnabled),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	portalClient := client.NewPortalClient(httpClient, cfg.PortalAPIURL, resilience.NewCircuitBreaker("portal-api"), resilienceCfg)

	health := []handler.HealthCheck{{
		Name: "portal-api",
		Check: func(ctx context.Context) error {
			_, err := portalClient.GetTaxTypes(ctx)
			return err
		},
	}}

	// --- Persistence ---
	var (
		declarations port.DeclarationStore = portalClient
		payments     port.PaymentProcessor = portalClient
		recorder     service.PaymentRecorder
		operators    port.OperatorStore
		pool         *pgxpool.Pool
	)
	if cfg.StoreBackend == config.StoreBackendPostgres {
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		paymentStore := postgres.NewPaymentStore(pool)
		declarations = postgres.NewDeclarationStore(pool)
		payments = paymentStore
		recorder = paymentStore
		operators = postgres.NewOperatorStore(pool)
		health = append(health, handler.HealthCheck{Name: "postgres", Check: pool.Ping})
		logger.Info("using postgres as declaration store")
	} else {
		logger.Info("using portal API as declaration store", zap.String("portal_api_url", cfg.PortalAPIURL))
	}

	// --- Tax type catalogue ---
	var taxTypeSource port.TaxTypeProvider = portalClient
	if cfg.TaxCatalogFile != "" {
		file, err := catalog.Load(cfg.TaxCatalogFile)
		if err != nil {
			return fmt.Errorf("load tax catalogue: %w", err)
		}
		taxTypeSource = file
		if operators == nil {
			operators = file
		}
		logger.Info("tax types loaded from catalogue file", zap.String("path", cfg.TaxCatalogFile))
	}
	taxTypeCache := cache.New[[]domain.TaxType](cfg.TaxTypeCacheTTL)
	defer taxTypeCache.Close()
	taxTypes := service.NewCachedTaxTypes(taxTypeSource, taxTypeCache, cfg.ReproductionTaxTypeIDs, metrics)

	// --- AI assistant ---
	var assistant port.Assistant
	switch cfg.AIBackend {
	case config.AIBackendAgent:
		assistant = client.NewAgentClient(httpClient, cfg.AgentAPIURL, resilience.NewCircuitBreaker("agent"), resilienceCfg)
		logger.Info("AI assistant: HTTP agent", zap.String("agent_api_url", cfg.AgentAPIURL))
	case config.AIBackendGemini:
		gen, err := gemini.NewGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("init gemini: %w", err)
		}
		assistant = gemini.New(gen, resilience.NewCircuitBreaker("gemini"), resilienceCfg)
		logger.Info("AI assistant: gemini", zap.String("model", cfg.GeminiModel))
	default:
		logger.Warn("AI assistant disabled, local rules only")
	}

	// --- Payments ---
	router := service.NewPaymentRouter(payments)
	if cfg.StripeAPIKey != "" {
		var card port.PaymentProcessor = stripe.NewProcessor(cfg.StripeAPIKey, cfg.StripeCurrency, resilience.NewCircuitBreaker("stripe"), resilienceCfg)
		if recorder != nil {
			card = service.NewRecordingProcessor(card, recorder)
		}
		router.Route(domain.MethodCard, card)
		logger.Info("card payments enabled", zap.String("currency", cfg.StripeCurrency))
	}

	var notifier port.PaymentNotifier = slack.Nop{}
	if cfg.SlackBotToken != "" {
		notifier = slack.NewNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("payment notifications enabled", zap.String("channel", cfg.SlackChannel))
	}

	// --- Services ---
	wizard := service.NewWizard(service.Deps{
		Taxpayers:    portalClient,
		TaxTypes:     taxTypes,
		Declarations: declarations,
		Assistant:    assistant,
		Payments:     router,
		Notifier:     notifier,
		Renderer:     receipt.NewRenderer(),
	}, service.Options{
		MaxDeclarations: cfg.MaxDeclarations,
		UnitAmount:      cfg.DefaultUnitAmount,
		Issuer:          cfg.IssuerName,
	}, metrics, logger)

	sessionStore := cache.New[*domain.Session](cfg.SessionTTL)
	defer sessionStore.Close()
	metrics.ObserveActiveSessions(sessionStore.Len)

	var authSvc *service.AuthService
	if cfg.AuthEnabled {
		if operators == nil {
			return errors.New("AUTH_ENABLED needs operators from STORE_BACKEND=postgres or TAX_CATALOG_FILE")
		}
		authSvc = service.NewAuthService(operators, cfg.JWTSecret, cfg.JWTAccessTTL, logger)
		logger.Info("operator authentication enabled")
	} else {
		logger.Warn("operator authentication disabled")
	}

	// --- Router ---
	h := handler.NewRouter(handler.Deps{
		Wizard:         wizard,
		Sessions:       service.NewSessionManager(sessionStore, metrics),
		Auth:           authSvc,
		Health:         health,
		Metrics:        metrics,
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// --- Graceful shutdown ---
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

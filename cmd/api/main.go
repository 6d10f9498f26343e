package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/jobs"
	"server/internal/provider"
	"server/internal/storage"
	"server/internal/webhook"
	"server/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "api").Logger()

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	jobRepo := repo.NewJobRepository(pool)
	eventRepo := repo.NewWebhookEventRepository(pool)
	securityRepo := repo.NewSecurityEventRepository(pool)
	workflowRepo := repo.NewWorkflowRepository(pool)
	auditRepo := repo.NewAuditRepository(pool)
	ledger := repo.NewCreditLedger(pool)
	analytics := repo.NewWebhookAnalytics(pool)

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, security events will lack country")
	}

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure object storage")
	}
	downloader := storage.NewDownloader(cfg.DownloadTimeout)

	registry := provider.NewRegistry(provider.DefaultCatalog()...)
	secrets := credentials.NewStore(pool)

	chain := webhook.NewChain(
		webhook.ChainConfig{
			StaticToken: cfg.WebhookStaticToken,
			MinElapsed:  cfg.WebhookMinElapsed,
			LateFactor:  cfg.WebhookLateFactor,
			LookupRetry: provider.LookupRetryPolicy,
		},
		jobRepo, eventRepo, securityRepo, secrets, geo, registry, logger,
	)
	persister := webhook.NewPersister(jobRepo, auditRepo, store, downloader, logger)
	settler := credits.NewSettler(ledger, jobRepo, logger)
	submitter := jobs.NewSubmitter(jobRepo, ledger, registry, cfg.PublicBaseURL, cfg.WebhookStaticToken, logger)
	orchestrator := workflow.NewOrchestrator(workflowRepo, registry, store, submitter, cfg.SignedURLTTL, logger)
	webhooks := webhook.NewHandler(chain, registry, persister, settler, orchestrator, analytics, logger)

	app := &handlers.App{
		Jobs:         jobRepo,
		Workflows:    workflowRepo,
		Submitter:    submitter,
		Orchestrator: orchestrator,
		Webhooks:     webhooks,
		Logger:       logger,
	}

	staticDir := ""
	if cfg.StorageBackend != "s3" {
		staticDir = cfg.StoragePath
	}
	router := httpapi.NewRouter(app, cfg.RateLimitPerMin, staticDir)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newObjectStore(ctx context.Context, cfg *infra.Config) (storage.ObjectStore, error) {
	if cfg.StorageBackend == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	}
	return storage.NewFileStore(cfg.StoragePath, cfg.PublicBaseURL+"/files")
}

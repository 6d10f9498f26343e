package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/jobs"
	"server/internal/provider"
	"server/internal/storage"
	"server/internal/webhook"
	"server/internal/workflow"
)

const jobPollInterval = 2 * time.Second

// knownProviders lists every provider the catalog references. Each reads its
// credentials from <NAME>_API_KEY / <NAME>_BASE_URL.
var knownProviders = []string{"fluxgen", "soniva", "motionframe", "scribe"}

type jobWorker struct {
	ctx          context.Context
	jobs         domain.JobRepository
	adapters     map[string]provider.Adapter
	registry     *provider.Registry
	submitter    *jobs.Submitter
	persister    *webhook.Persister
	settler      *credits.Settler
	orchestrator *workflow.Orchestrator
	logger       zerolog.Logger
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobRepo := repo.NewJobRepository(pool)
	workflowRepo := repo.NewWorkflowRepository(pool)
	auditRepo := repo.NewAuditRepository(pool)
	ledger := repo.NewCreditLedger(pool)

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	downloader := storage.NewDownloader(cfg.DownloadTimeout)

	registry := provider.NewRegistry(provider.DefaultCatalog()...)
	submitter := jobs.NewSubmitter(jobRepo, ledger, registry, cfg.PublicBaseURL, cfg.WebhookStaticToken, logger)
	persister := webhook.NewPersister(jobRepo, auditRepo, store, downloader, logger)
	settler := credits.NewSettler(ledger, jobRepo, logger)
	orchestrator := workflow.NewOrchestrator(workflowRepo, registry, store, submitter, cfg.SignedURLTTL, logger)

	worker := &jobWorker{
		ctx:          ctx,
		jobs:         jobRepo,
		adapters:     initAdapters(logger),
		registry:     registry,
		submitter:    submitter,
		persister:    persister,
		settler:      settler,
		orchestrator: orchestrator,
		logger:       logger,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
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

func initAdapters(logger zerolog.Logger) map[string]provider.Adapter {
	adapters := make(map[string]provider.Adapter, len(knownProviders))
	for _, name := range knownProviders {
		envPrefix := strings.ToUpper(name)
		apiKey := os.Getenv(envPrefix + "_API_KEY")
		baseURL := os.Getenv(envPrefix + "_BASE_URL")
		if apiKey == "" || baseURL == "" {
			logger.Warn().Str("provider", name).Msg("worker: provider not configured, its jobs will fail")
			continue
		}
		adapter, err := provider.NewHTTPAdapter(provider.Options{
			Name:    name,
			BaseURL: baseURL,
			APIKey:  apiKey,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("worker: provider setup failed")
			continue
		}
		adapters[name] = adapter
	}
	return adapters
}

func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		job, err := w.jobs.ClaimPending(w.ctx)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				time.Sleep(jobPollInterval)
				continue
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			w.logger.Error().Err(err).Msg("worker: failed to claim job")
			time.Sleep(jobPollInterval)
			continue
		}

		w.handleJob(job)
	}
}

func (w *jobWorker) handleJob(job *domain.Job) {
	w.logger.Info().
		Str("job_id", job.ID).
		Str("provider", job.Provider).
		Str("model", job.Model).
		Msg("worker: picked job")

	if err := w.dispatch(job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job failed")
		w.failJob(job, err)
	}
}

func (w *jobWorker) dispatch(job *domain.Job) error {
	adapter, ok := w.adapters[job.Provider]
	if !ok {
		return fmt.Errorf("no adapter for provider %q", job.Provider)
	}
	mc, ok := w.registry.Lookup(job.Model)
	if !ok {
		return fmt.Errorf("unknown model %q", job.Model)
	}

	req := provider.SubmitRequest{
		JobID:  job.ID,
		Kind:   job.Kind,
		Model:  job.Model,
		Prompt: job.Prompt,
		Params: job.Params,
	}
	if mc.SupportsWebhook {
		req.CallbackURL = w.submitter.CallbackURL(job.Provider, job.VerifyToken)
	}

	result, err := adapter.Submit(w.ctx, req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	if result.Inline() {
		return w.completeInline(job, result)
	}
	if result.TaskID == "" {
		return errors.New("submit: provider returned no task id")
	}

	if err := w.jobs.MarkSubmitted(w.ctx, job.ID, result.TaskID); err != nil {
		return fmt.Errorf("record task id: %w", err)
	}
	job.ProviderTaskID = result.TaskID
	job.Status = domain.JobStatusProcessing

	if mc.SupportsWebhook {
		// The callback pipeline owns the rest of the lifecycle.
		return nil
	}
	return w.pollToCompletion(job, adapter)
}

// completeInline persists bytes the provider returned synchronously.
func (w *jobWorker) completeInline(job *domain.Job, result *provider.SubmitResult) error {
	location, err := w.persister.PersistInline(w.ctx, job, result.InlineData, result.MIME)
	if err != nil {
		return err
	}
	if err := w.settler.Succeed(w.ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: settlement failed")
	}
	w.advanceWorkflow(job, location)
	return nil
}

// pollToCompletion drives a webhook-less provider to a terminal state.
func (w *jobWorker) pollToCompletion(job *domain.Job, adapter provider.Adapter) error {
	var final *provider.PollStatus
	err := provider.PollUntil(w.ctx, provider.DefaultPollPolicy, func(ctx context.Context) (bool, error) {
		status, err := adapter.Poll(ctx, job.ProviderTaskID)
		if err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: poll attempt failed")
			return false, nil
		}
		final = status
		return status.Done, nil
	})
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	if final.Failed {
		w.persister.AuditFailure(w.ctx, job, nil, domain.FailureClassProvider, final.Message)
		if err := w.settler.Fail(w.ctx, job, final.Message); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: settlement failed")
		}
		w.notifyStepFailed(job, final.Message)
		return nil
	}
	if final.ResultURL == "" {
		return errors.New("poll: provider finished without a result url")
	}

	outcome, err := w.persister.Persist(w.ctx, job, []string{final.ResultURL}, nil)
	if err != nil {
		return err
	}
	if err := w.settler.Succeed(w.ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: settlement failed")
	}
	w.advanceWorkflow(job, outcome.Location)
	return nil
}

func (w *jobWorker) failJob(job *domain.Job, cause error) {
	w.persister.AuditFailure(w.ctx, job, nil, domain.FailureClassInfrastructure, cause.Error())
	if err := w.settler.Fail(w.ctx, job, cause.Error()); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: settlement failed")
	}
	w.notifyStepFailed(job, cause.Error())
}

func (w *jobWorker) advanceWorkflow(job *domain.Job, location string) {
	if !job.InWorkflow() {
		return
	}
	outputs := map[string]any{"output_url": location}
	if err := w.orchestrator.Advance(w.ctx, job, outputs); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: workflow advance failed")
	}
}

func (w *jobWorker) notifyStepFailed(job *domain.Job, reason string) {
	if !job.InWorkflow() {
		return
	}
	if err := w.orchestrator.OnStepFailed(w.ctx, job, reason); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: workflow failure propagation failed")
	}
}

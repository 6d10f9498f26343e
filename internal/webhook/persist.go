package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/storage"
)

// Persister downloads canonical result URLs, uploads the bytes to durable
// storage and materializes output records. A single output updates the job in
// place; multiple outputs fan out into child job rows.
type Persister struct {
	jobs     domain.JobRepository
	audit    domain.AuditRepository
	store    storage.ObjectStore
	download *storage.Downloader
	logger   zerolog.Logger
	now      func() time.Time
}

func NewPersister(
	jobs domain.JobRepository,
	audit domain.AuditRepository,
	store storage.ObjectStore,
	download *storage.Downloader,
	logger zerolog.Logger,
) *Persister {
	return &Persister{jobs: jobs, audit: audit, store: store, download: download, logger: logger, now: time.Now}
}

// Outcome summarizes a successful persistence pass.
type Outcome struct {
	// Location is set for single-output jobs.
	Location string
	// ChildLocations holds the stored location per output index for batch
	// jobs; skipped (already existing) indices hold their prior location.
	ChildLocations []string
}

// Batch reports whether the job fanned out into children.
func (o *Outcome) Batch() bool {
	return len(o.ChildLocations) > 0
}

// Persist materializes every canonical URL for the job. The audit record is
// written before the job's terminal state commits, so reconciliation data
// exists even if a later step crashes. On error the job has not been marked
// terminal; the caller settles credits and fails the job.
func (p *Persister) Persist(ctx context.Context, job *domain.Job, urls []string, cb *Callback) (*Outcome, error) {
	switch len(urls) {
	case 0:
		return nil, errors.New("persist: no result urls")
	case 1:
		return p.persistSingle(ctx, job, urls[0], cb)
	default:
		return p.persistBatch(ctx, job, urls, cb)
	}
}

func (p *Persister) persistSingle(ctx context.Context, job *domain.Job, rawURL string, cb *Callback) (*Outcome, error) {
	location, err := p.fetchAndStore(ctx, job, job.ID, rawURL)
	if err != nil {
		p.appendAudit(ctx, job, cb, domain.JobStatusFailed, domain.FailureClassInfrastructure, 0, err.Error())
		return nil, err
	}
	p.appendAudit(ctx, job, cb, domain.JobStatusCompleted, domain.FailureClassNone, job.ReservedCredits, "")
	if err := p.jobs.SetOutput(ctx, job.ID, location); err != nil {
		return nil, fmt.Errorf("persist: set output: %w", err)
	}
	return &Outcome{Location: location}, nil
}

// persistBatch fans the job out into one child row per canonical URL. The
// parent becomes a container with no direct storage location. Processing is
// idempotent per index: children surviving a prior partial pass are skipped.
// A failed index is logged and does not abort the remaining indices.
func (p *Persister) persistBatch(ctx context.Context, job *domain.Job, urls []string, cb *Callback) (*Outcome, error) {
	locations := make([]string, len(urls))
	var failures int
	for idx, rawURL := range urls {
		existing, err := p.jobs.ChildByIndex(ctx, job.ID, idx)
		if err == nil {
			locations[idx] = existing.OutputLocation
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			failures++
			p.logger.Error().Err(err).Str("job_id", job.ID).Int("index", idx).Msg("child lookup failed")
			continue
		}
		childID := uuid.NewString()
		location, err := p.fetchAndStore(ctx, job, childID, rawURL)
		if err != nil {
			failures++
			p.logger.Error().Err(err).Str("job_id", job.ID).Int("index", idx).Msg("batch output failed")
			continue
		}
		child := &domain.Job{
			ID:             childID,
			UserID:         job.UserID,
			Kind:           job.Kind,
			Provider:       job.Provider,
			Model:          job.Model,
			Prompt:         job.Prompt,
			Params:         job.Params,
			Status:         domain.JobStatusCompleted,
			OutputLocation: location,
			ParentID:       job.ID,
			OutputIndex:    idx,
		}
		if err := p.jobs.Create(ctx, child); err != nil {
			failures++
			p.logger.Error().Err(err).Str("job_id", job.ID).Int("index", idx).Msg("child insert failed")
			continue
		}
		locations[idx] = location
	}
	if failures == len(urls) {
		err := fmt.Errorf("persist: all %d batch outputs failed", len(urls))
		p.appendAudit(ctx, job, cb, domain.JobStatusFailed, domain.FailureClassInfrastructure, 0, err.Error())
		return nil, err
	}
	detail := fmt.Sprintf("%d of %d outputs stored", len(urls)-failures, len(urls))
	p.appendAudit(ctx, job, cb, domain.JobStatusCompleted, domain.FailureClassNone, job.ReservedCredits, detail)
	if err := p.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return nil, fmt.Errorf("persist: complete batch parent: %w", err)
	}
	return &Outcome{ChildLocations: locations}, nil
}

// PersistInline stores bytes a provider returned synchronously at submission
// time, bypassing the download step. The audit and settlement contract matches
// Persist.
func (p *Persister) PersistInline(ctx context.Context, job *domain.Job, data []byte, contentType string) (string, error) {
	ext, err := resolveExtension("", contentType, job.Kind)
	if err != nil {
		p.appendAudit(ctx, job, nil, domain.JobStatusFailed, domain.FailureClassInfrastructure, 0, err.Error())
		return "", err
	}
	key := fmt.Sprintf("outputs/%s/%s/%s%s", job.UserID, p.now().UTC().Format("2006-01-02"), job.ID, ext)
	location, err := p.store.Upload(ctx, key, data, contentType)
	if err != nil {
		err = fmt.Errorf("persist: upload: %w", err)
		p.appendAudit(ctx, job, nil, domain.JobStatusFailed, domain.FailureClassInfrastructure, 0, err.Error())
		return "", err
	}
	p.appendAudit(ctx, job, nil, domain.JobStatusCompleted, domain.FailureClassNone, job.ReservedCredits, "")
	if err := p.jobs.SetOutput(ctx, job.ID, location); err != nil {
		return "", fmt.Errorf("persist: set output: %w", err)
	}
	return location, nil
}

func (p *Persister) fetchAndStore(ctx context.Context, job *domain.Job, outputID, rawURL string) (string, error) {
	data, contentType, err := p.download.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	ext, err := resolveExtension(rawURL, contentType, job.Kind)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("outputs/%s/%s/%s%s", job.UserID, p.now().UTC().Format("2006-01-02"), outputID, ext)
	location, err := p.store.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("persist: upload: %w", err)
	}
	return location, nil
}

// AuditFailure records a terminal failure before the job is marked failed.
// Used by the handler for provider-reported failures, which never reach
// Persist.
func (p *Persister) AuditFailure(ctx context.Context, job *domain.Job, cb *Callback, class domain.FailureClass, detail string) {
	p.appendAudit(ctx, job, cb, domain.JobStatusFailed, class, 0, detail)
}

func (p *Persister) appendAudit(ctx context.Context, job *domain.Job, cb *Callback, outcome domain.JobStatus, class domain.FailureClass, systemCharge int64, detail string) {
	record := &domain.SettlementAudit{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		TaskID:       job.ProviderTaskID,
		Provider:     job.Provider,
		Outcome:      outcome,
		FailureClass: class,
		SystemCharge: systemCharge,
		Detail:       detail,
	}
	if cb != nil {
		record.ProviderCharge = cb.ProviderCharge
		record.RawPayload = cb.Body
	}
	if err := p.audit.Append(ctx, record); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("audit append failed")
	}
}

var extensionPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// resolveExtension determines the stored file extension: a suffix in the URL
// path wins, then the MIME table, then a per-kind fallback. Audio falls back
// to mp3 because several providers serve audio through streaming endpoints
// with neither extension nor a useful content type. Anything else unknown
// fails loudly rather than guessing.
func resolveExtension(rawURL, contentType string, kind domain.ContentKind) (string, error) {
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if extensionPattern.MatchString(ext) {
			return ext, nil
		}
	}
	if ext, ok := storage.ExtensionForMIME(contentType); ok {
		return ext, nil
	}
	if kind == domain.ContentKindAudio {
		return ".mp3", nil
	}
	return "", fmt.Errorf("persist: no extension for content type %q (%s)", contentType, kind)
}

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra/credentials"
	"server/internal/infra/geoip"
	"server/internal/provider"
)

// SignatureHeader carries the provider's keyed-hash signature over the raw
// request body, optionally prefixed "sha256=".
const SignatureHeader = "X-Webhook-Signature"

// ChainConfig tunes the security validation chain.
type ChainConfig struct {
	// StaticToken is the deployment-wide secret in the callback URL.
	StaticToken string
	// MinElapsed rejects success callbacks arriving faster than this after
	// submission. Legitimate provider processing cannot be instantaneous;
	// failure callbacks are exempt because input rejection can be.
	MinElapsed time.Duration
	// LateFactor flags callbacks arriving later than factor x the model's
	// expected duration. Late delivery is tolerated, only logged.
	LateFactor int
	// LookupRetry bounds the retry loop that absorbs the race where a
	// callback arrives before the job row's write is visible.
	LookupRetry provider.Policy
	Now         func() time.Time
}

// Chain runs the five ordered, short-circuiting checks against every inbound
// callback before any business logic executes.
type Chain struct {
	cfg      ChainConfig
	jobs     domain.JobRepository
	events   domain.WebhookEventRepository
	security domain.SecurityEventRepository
	secrets  credentials.SecretSource
	geo      geoip.CountryResolver
	registry *provider.Registry
	logger   zerolog.Logger
}

func NewChain(
	cfg ChainConfig,
	jobs domain.JobRepository,
	events domain.WebhookEventRepository,
	security domain.SecurityEventRepository,
	secrets credentials.SecretSource,
	geo geoip.CountryResolver,
	registry *provider.Registry,
	logger zerolog.Logger,
) *Chain {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LateFactor <= 0 {
		cfg.LateFactor = 4
	}
	return &Chain{cfg: cfg, jobs: jobs, events: events, security: security, secrets: secrets, geo: geo, registry: registry, logger: logger}
}

// Request is one inbound callback as seen by the chain.
type Request struct {
	Provider  string
	Token     string
	Verify    string
	Signature string
	SourceIP  string
	Body      []byte
	Callback  *Callback
}

// Decision is the chain's verdict on a callback.
type Decision struct {
	HTTPStatus int
	// Ack means the provider should not retry; the body is success-shaped.
	Ack       bool
	Message   string
	Proceed   bool
	Duplicate bool
	Job       *domain.Job
}

func reject(status int, message string) Decision {
	return Decision{HTTPStatus: status, Message: message}
}

func ack(message string) Decision {
	return Decision{HTTPStatus: http.StatusOK, Ack: true, Message: message}
}

// CheckStaticToken is layer 1. It runs before the body is parsed. A mismatch
// responds as if the route does not exist so scanners learn nothing.
func (c *Chain) CheckStaticToken(ctx context.Context, req *Request) bool {
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(c.cfg.StaticToken)) == 1 {
		return true
	}
	c.recordRejection(ctx, req, domain.SecurityLayerURLToken, "static token mismatch")
	return false
}

// Validate runs layers 2-5 in order, stopping at the first failure.
func (c *Chain) Validate(ctx context.Context, req *Request) Decision {
	d := c.checkVerifyToken(ctx, req)
	if !d.Proceed {
		return d
	}
	job := d.Job
	if d := c.checkTiming(ctx, req, job); !d.Proceed {
		return d
	}
	if d := c.checkIdempotency(ctx, req); !d.Proceed {
		return d
	}
	if d := c.checkSignature(ctx, req); !d.Proceed {
		return d
	}
	return Decision{HTTPStatus: http.StatusOK, Proceed: true, Job: job}
}

// checkVerifyToken is layer 2: the per-job secret minted at submission.
func (c *Chain) checkVerifyToken(ctx context.Context, req *Request) Decision {
	job, err := c.lookupJob(ctx, req.Callback.TaskID)
	if err != nil {
		c.recordRejection(ctx, req, domain.SecurityLayerVerifyToken, "unknown task")
		return reject(http.StatusNotFound, "unknown task")
	}
	if job.Status == domain.JobStatusCancelled {
		// No-op success so the provider stops retrying a dead job.
		return ack("job cancelled")
	}
	if job.Status.Terminal() {
		c.recordRejection(ctx, req, domain.SecurityLayerVerifyToken, "job already processed")
		return reject(http.StatusConflict, "already processed")
	}
	if subtle.ConstantTimeCompare([]byte(req.Verify), []byte(job.VerifyToken)) != 1 {
		c.recordRejection(ctx, req, domain.SecurityLayerVerifyToken, "verify token mismatch")
		return reject(http.StatusForbidden, "verification failed")
	}
	return Decision{Proceed: true, Job: job}
}

// lookupJob retries the task-id lookup with backoff; the callback can arrive
// before the submission transaction is visible.
func (c *Chain) lookupJob(ctx context.Context, taskID string) (*domain.Job, error) {
	var job *domain.Job
	err := provider.PollUntil(ctx, c.cfg.LookupRetry, func(ctx context.Context) (bool, error) {
		found, err := c.jobs.GetByTaskID(ctx, taskID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		job = found
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// checkTiming is layer 3: the anti-replay timing window.
func (c *Chain) checkTiming(ctx context.Context, req *Request, job *domain.Job) Decision {
	elapsed := c.cfg.Now().Sub(job.CreatedAt)
	if elapsed < c.cfg.MinElapsed && !req.Callback.FailureReported() {
		c.recordRejection(ctx, req, domain.SecurityLayerTiming,
			fmt.Sprintf("callback after %s, minimum %s", elapsed.Round(time.Millisecond), c.cfg.MinElapsed))
		return reject(http.StatusTooManyRequests, "too fast")
	}
	var expected time.Duration
	if c.registry != nil {
		if mc, ok := c.registry.Lookup(job.Model); ok {
			expected = mc.ExpectedDuration
		}
	}
	if expected > 0 && elapsed > expected*time.Duration(c.cfg.LateFactor) {
		c.logger.Warn().
			Str("task_id", req.Callback.TaskID).
			Dur("elapsed", elapsed).
			Dur("expected", expected).
			Msg("late callback delivery")
	}
	return Decision{Proceed: true}
}

// checkIdempotency is layer 4: the (task id, subtype) ledger.
func (c *Chain) checkIdempotency(ctx context.Context, req *Request) Decision {
	cb := req.Callback
	if existing, err := c.events.Find(ctx, cb.TaskID, cb.Subtype); err == nil && existing != nil {
		d := ack("duplicate callback")
		d.Duplicate = true
		return d
	}
	event := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		TaskID:     cb.TaskID,
		Subtype:    cb.Subtype,
		Provider:   req.Provider,
		Payload:    req.Body,
		ReceivedAt: c.cfg.Now(),
	}
	if err := c.events.Insert(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateOperation) {
			// A racing delivery won the insert; treat ours as the duplicate.
			d := ack("duplicate callback")
			d.Duplicate = true
			return d
		}
		// Ledger insertion is best-effort: log and continue.
		c.logger.Error().Err(err).Str("task_id", cb.TaskID).Msg("idempotency ledger insert failed")
	}
	return Decision{Proceed: true}
}

// checkSignature is layer 5: keyed-hash verification of the raw body.
func (c *Chain) checkSignature(ctx context.Context, req *Request) Decision {
	secret, err := c.secrets.SigningSecret(ctx, req.Provider)
	if err != nil {
		c.logger.Error().Err(err).Str("provider", req.Provider).Msg("signing secret lookup failed")
		return reject(http.StatusInternalServerError, "verification unavailable")
	}
	if secret == "" {
		// Provider does not sign its callbacks.
		return Decision{Proceed: true}
	}
	sig := strings.TrimPrefix(strings.TrimSpace(req.Signature), "sha256=")
	if sig == "" {
		c.recordRejection(ctx, req, domain.SecurityLayerSignature, "missing signature")
		return reject(http.StatusUnauthorized, "missing signature")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		c.recordRejection(ctx, req, domain.SecurityLayerSignature, "signature mismatch")
		return reject(http.StatusUnauthorized, "invalid signature")
	}
	return Decision{Proceed: true}
}

func (c *Chain) recordRejection(ctx context.Context, req *Request, layer, reason string) {
	taskID := ""
	if req.Callback != nil {
		taskID = req.Callback.TaskID
	}
	event := &domain.SecurityEvent{
		ID:         uuid.NewString(),
		Provider:   req.Provider,
		Layer:      layer,
		Reason:     reason,
		TaskID:     taskID,
		SourceIP:   req.SourceIP,
		Country:    geoip.BestEffortCountry(c.geo, req.SourceIP),
		OccurredAt: c.cfg.Now(),
	}
	if err := c.security.Append(ctx, event); err != nil {
		c.logger.Error().Err(err).Msg("security event append failed")
	}
	c.logger.Warn().
		Str("provider", req.Provider).
		Str("layer", layer).
		Str("reason", reason).
		Str("source_ip", req.SourceIP).
		Str("task_id", taskID).
		Msg("callback rejected")
}

// Package workflow advances linear multi-step generation chains. Each step's
// inputs may reference user inputs and prior step outputs; step N+1 starts
// only after step N's job completes.
package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobs"
	"server/internal/provider"
	"server/internal/storage"
)

// StepSubmitter starts one step as a new generation job.
type StepSubmitter interface {
	Submit(ctx context.Context, spec jobs.SubmitSpec) (*domain.Job, error)
}

// Orchestrator drives workflow executions forward as their step jobs
// complete.
type Orchestrator struct {
	executions   domain.WorkflowRepository
	registry     *provider.Registry
	store        storage.ObjectStore
	submitter    StepSubmitter
	signedURLTTL time.Duration
	logger       zerolog.Logger
}

func NewOrchestrator(
	executions domain.WorkflowRepository,
	registry *provider.Registry,
	store storage.ObjectStore,
	submitter StepSubmitter,
	signedURLTTL time.Duration,
	logger zerolog.Logger,
) *Orchestrator {
	if signedURLTTL <= 0 {
		signedURLTTL = 15 * time.Minute
	}
	return &Orchestrator{
		executions:   executions,
		registry:     registry,
		store:        store,
		submitter:    submitter,
		signedURLTTL: signedURLTTL,
		logger:       logger,
	}
}

// Start creates the execution and submits its first step.
func (o *Orchestrator) Start(ctx context.Context, exec *domain.WorkflowExecution) error {
	if len(exec.Steps) == 0 {
		return errors.New("workflow: no steps defined")
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	exec.Status = domain.JobStatusProcessing
	exec.CurrentStep = 0
	if exec.StepOutputs == nil {
		exec.StepOutputs = map[string]map[string]any{}
	}
	if err := o.executions.Create(ctx, exec); err != nil {
		return fmt.Errorf("workflow: create execution: %w", err)
	}
	if err := o.submitStep(ctx, exec, 0); err != nil {
		return o.failExecution(ctx, exec.ID, "step 1 failed to start", err)
	}
	return nil
}

// Advance is triggered when a completed job carries a workflow reference. It
// merges the step's outputs, then either submits the next step or finalizes
// the chain.
func (o *Orchestrator) Advance(ctx context.Context, job *domain.Job, outputs map[string]any) error {
	exec, err := o.executions.GetByID(ctx, job.WorkflowID)
	if err != nil {
		return fmt.Errorf("workflow: load execution: %w", err)
	}
	if exec.Status.Terminal() {
		return nil
	}
	stepIdx := job.WorkflowStep
	if stepIdx < 0 || stepIdx >= len(exec.Steps) {
		return fmt.Errorf("workflow: job %s references step %d of %d", job.ID, stepIdx, len(exec.Steps))
	}

	merged := make(map[string]any, len(outputs)+1)
	for k, v := range outputs {
		merged[k] = v
	}
	merged["job_id"] = job.ID
	if exec.StepOutputs == nil {
		exec.StepOutputs = map[string]map[string]any{}
	}
	exec.StepOutputs[domain.StepKey(stepIdx)] = merged
	exec.CreditsUsed += job.ReservedCredits

	next := stepIdx + 1
	if next >= len(exec.Steps) {
		if err := o.executions.SaveProgress(ctx, exec); err != nil {
			return fmt.Errorf("workflow: save progress: %w", err)
		}
		final := terminalOutput(merged)
		if err := o.executions.MarkCompleted(ctx, exec.ID, final); err != nil {
			return fmt.Errorf("workflow: mark completed: %w", err)
		}
		o.logger.Info().Str("execution_id", exec.ID).Str("final_output", final).Msg("workflow completed")
		return nil
	}

	exec.CurrentStep = next
	if err := o.executions.SaveProgress(ctx, exec); err != nil {
		return fmt.Errorf("workflow: save progress: %w", err)
	}
	if err := o.submitStep(ctx, exec, next); err != nil {
		// Already-completed steps are left intact; recovery is operator
		// intervention, not rollback.
		return o.failExecution(ctx, exec.ID, fmt.Sprintf("step %d failed to start", next+1), err)
	}
	return nil
}

// OnStepFailed marks the whole execution failed when a step job fails.
func (o *Orchestrator) OnStepFailed(ctx context.Context, job *domain.Job, reason string) error {
	msg := fmt.Sprintf("step %d failed: %s", job.WorkflowStep+1, reason)
	if err := o.executions.MarkFailed(ctx, job.WorkflowID, msg); err != nil {
		return fmt.Errorf("workflow: mark failed: %w", err)
	}
	return nil
}

func (o *Orchestrator) submitStep(ctx context.Context, exec *domain.WorkflowExecution, stepIdx int) error {
	step := exec.Steps[stepIdx]
	rctx := resolutionContext(exec)

	params := make(map[string]any, len(step.Params))
	for k, v := range step.Params {
		params[k] = v
	}
	for param, path := range step.InputMappings {
		if v, ok := lookupPath(rctx, path); ok {
			params[param] = v
		}
	}

	params = o.sanitizeDataURIs(ctx, exec.UserID, params)
	if mc, ok := o.registry.Lookup(step.Model); ok {
		params = CoerceParams(params, mc.ParamSchema)
	}
	prompt := ResolveTemplate(step.PromptTemplate, rctx)

	_, err := o.submitter.Submit(ctx, jobs.SubmitSpec{
		UserID:       exec.UserID,
		Provider:     step.Provider,
		Model:        step.Model,
		Prompt:       prompt,
		Params:       params,
		WorkflowID:   exec.ID,
		WorkflowStep: stepIdx,
	})
	return err
}

// sanitizeDataURIs uploads inline base64 payloads to storage and replaces
// them with time-limited signed URLs. This keeps the submission payload small
// and avoids re-encoding the same bytes on every chained step.
func (o *Orchestrator) sanitizeDataURIs(ctx context.Context, userID string, params map[string]any) map[string]any {
	for name, value := range params {
		s, ok := value.(string)
		if !ok || !strings.HasPrefix(s, "data:") {
			continue
		}
		signed, err := o.uploadDataURI(ctx, userID, s)
		if err != nil {
			o.logger.Warn().Err(err).Str("param", name).Msg("data uri upload failed, passing through")
			continue
		}
		params[name] = signed
	}
	return params
}

func (o *Orchestrator) uploadDataURI(ctx context.Context, userID, uri string) (string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return "", errors.New("malformed data uri")
	}
	mime := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode data uri: %w", err)
	}
	ext, ok := storage.ExtensionForMIME(mime)
	if !ok {
		ext = ".bin"
	}
	key := fmt.Sprintf("workflow-inputs/%s/%s%s", userID, uuid.NewString(), ext)
	if _, err := o.store.Upload(ctx, key, data, mime); err != nil {
		return "", err
	}
	return o.store.SignedURL(ctx, key, o.signedURLTTL)
}

func (o *Orchestrator) failExecution(ctx context.Context, execID, message string, cause error) error {
	if err := o.executions.MarkFailed(ctx, execID, fmt.Sprintf("%s: %v", message, cause)); err != nil {
		o.logger.Error().Err(err).Str("execution_id", execID).Msg("mark execution failed errored")
	}
	o.logger.Error().Err(cause).Str("execution_id", execID).Msg("workflow step start failed")
	return fmt.Errorf("workflow: %s: %w", message, cause)
}

// terminalOutput picks the final step's principal output: by convention the
// first non-identifier key in its output map, in stable key order.
func terminalOutput(outputs map[string]any) string {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		if k == "job_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := stringify(outputs[k]); ok && s != "" {
			return s
		}
	}
	return ""
}

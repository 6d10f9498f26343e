package provider

import (
	"time"

	"server/internal/domain"
)

// ParamType enumerates the declared types of a model parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// ParamSpec declares one parameter of a model's schema.
type ParamSpec struct {
	Type ParamType
}

// ModelConfig is the per-model configuration record: defaults, payload shape
// hints and timing expectations, looked up from the registry at call time.
// There is no shared mutable default table.
type ModelConfig struct {
	Name     string
	Provider string
	Kind     domain.ContentKind
	// ExpectedDuration is the provider's typical processing time; callbacks
	// arriving much later than a multiple of it are flagged as late.
	ExpectedDuration time.Duration
	CreditCost       int64
	Defaults         map[string]any
	ParamSchema      map[string]ParamSpec
	// DirectArrayField names a top-level payload field that carries result
	// URLs for one specific model family; empty for everyone else.
	DirectArrayField string
	// SupportsWebhook is false for providers the worker must poll.
	SupportsWebhook bool
}

// Registry maps model identifiers to their configuration.
type Registry struct {
	models map[string]ModelConfig
}

func NewRegistry(configs ...ModelConfig) *Registry {
	r := &Registry{models: make(map[string]ModelConfig, len(configs))}
	for _, mc := range configs {
		r.models[mc.Name] = mc
	}
	return r
}

// Lookup returns the configuration for a model identifier.
func (r *Registry) Lookup(model string) (ModelConfig, bool) {
	mc, ok := r.models[model]
	return mc, ok
}

// MergedParams overlays params on the model defaults; caller values win.
func (mc ModelConfig) MergedParams(params map[string]any) map[string]any {
	merged := make(map[string]any, len(mc.Defaults)+len(params))
	for k, v := range mc.Defaults {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}

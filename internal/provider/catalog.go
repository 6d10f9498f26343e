package provider

import (
	"time"

	"server/internal/domain"
)

// DefaultCatalog is the built-in model configuration set. Each entry is
// self-contained; nothing here is mutated after startup.
func DefaultCatalog() []ModelConfig {
	return []ModelConfig{
		{
			Name:             "flux-schnell",
			Provider:         "fluxgen",
			Kind:             domain.ContentKindImage,
			ExpectedDuration: 20 * time.Second,
			CreditCost:       2,
			Defaults:         map[string]any{"size": "1024x1024", "n": 1},
			ParamSchema: map[string]ParamSpec{
				"size":            {Type: ParamString},
				"n":               {Type: ParamNumber},
				"seed":            {Type: ParamNumber},
				"negative_prompt": {Type: ParamString},
			},
			SupportsWebhook: true,
		},
		{
			Name:             "flux-pro",
			Provider:         "fluxgen",
			Kind:             domain.ContentKindImage,
			ExpectedDuration: 60 * time.Second,
			CreditCost:       8,
			Defaults:         map[string]any{"size": "1024x1024", "n": 1},
			ParamSchema: map[string]ParamSpec{
				"size":            {Type: ParamString},
				"n":               {Type: ParamNumber},
				"seed":            {Type: ParamNumber},
				"negative_prompt": {Type: ParamString},
			},
			SupportsWebhook: true,
		},
		{
			Name:             "soniva-v2",
			Provider:         "soniva",
			Kind:             domain.ContentKindAudio,
			ExpectedDuration: 90 * time.Second,
			CreditCost:       10,
			Defaults:         map[string]any{"make_instrumental": false},
			ParamSchema: map[string]ParamSpec{
				"tags":              {Type: ParamString},
				"title":             {Type: ParamString},
				"make_instrumental": {Type: ParamBoolean},
				"continue_clip_id":  {Type: ParamString},
			},
			// Soniva callbacks put the clip array at the payload top level.
			DirectArrayField: "data",
			SupportsWebhook:  true,
		},
		{
			Name:             "motionframe-1",
			Provider:         "motionframe",
			Kind:             domain.ContentKindVideo,
			ExpectedDuration: 4 * time.Minute,
			CreditCost:       25,
			Defaults:         map[string]any{"duration_seconds": 5, "fps": 24},
			ParamSchema: map[string]ParamSpec{
				"duration_seconds": {Type: ParamNumber},
				"fps":              {Type: ParamNumber},
				"image_urls":       {Type: ParamArray},
				"aspect_ratio":     {Type: ParamString},
			},
			SupportsWebhook: true,
		},
		{
			Name:             "scribe-large",
			Provider:         "scribe",
			Kind:             domain.ContentKindText,
			ExpectedDuration: 15 * time.Second,
			CreditCost:       1,
			ParamSchema: map[string]ParamSpec{
				"max_tokens":  {Type: ParamNumber},
				"temperature": {Type: ParamNumber},
			},
			// Scribe has no callback support; the worker polls it.
			SupportsWebhook: false,
		},
	}
}

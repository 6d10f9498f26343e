package domain

import (
	"fmt"
	"time"
)

// StepDefinition describes one step of a linear workflow chain.
type StepDefinition struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	// PromptTemplate may reference prior step outputs and user inputs with
	// {{dotted.path}} tokens.
	PromptTemplate string         `json:"prompt_template"`
	Params         map[string]any `json:"params,omitempty"`
	// InputMappings maps a parameter name of this step to a dotted path into
	// the resolution context, e.g. "image_url" -> "step1.output_url".
	InputMappings map[string]string `json:"input_mappings,omitempty"`
}

// WorkflowExecution is the runtime state of a linear chain of generation
// jobs. Step N+1 may only start after step N's job completes; there is no
// branching or fan-in.
type WorkflowExecution struct {
	ID          string
	UserID      string
	Status      JobStatus
	Steps       []StepDefinition
	CurrentStep int
	UserInputs  map[string]any
	// StepOutputs accumulates named outputs per completed step, keyed
	// "step1", "step2", ... Each entry includes the originating job id.
	StepOutputs  map[string]map[string]any
	CreditsUsed  int64
	FinalOutput  string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepKey returns the accumulated-output key for a zero-based step index.
func StepKey(stepIndex int) string {
	return fmt.Sprintf("step%d", stepIndex+1)
}

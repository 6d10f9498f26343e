package domain

import "time"

// ContentKind enumerates the categories of generated content.
type ContentKind string

const (
	ContentKindImage ContentKind = "image"
	ContentKindAudio ContentKind = "audio"
	ContentKindVideo ContentKind = "video"
	ContentKindText  ContentKind = "text"
)

// JobStatus enumerates job lifecycle states. Status only moves forward:
// pending -> processing -> completed|failed|cancelled.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is one unit of requested content generation and its async lifecycle
// record. The webhook pipeline is the only writer during the async phase.
type Job struct {
	ID             string
	UserID         string
	Kind           ContentKind
	Provider       string
	Model          string
	Prompt         string
	Params         map[string]any
	Status         JobStatus
	ProviderTaskID string
	// VerifyToken is a per-job secret minted at submission. It travels only
	// inside the callback URL and is never returned to the client.
	VerifyToken     string
	ReservedCredits int64
	OutputLocation  string
	ParentID        string
	OutputIndex     int
	WorkflowID      string
	WorkflowStep    int
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InWorkflow reports whether the job is one step of a workflow execution.
func (j *Job) InWorkflow() bool {
	return j.WorkflowID != ""
}

// IsChild reports whether the job was fanned out from a batch parent.
func (j *Job) IsChild() bool {
	return j.ParentID != ""
}

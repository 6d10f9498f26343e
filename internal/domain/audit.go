package domain

import "time"

// FailureClass distinguishes why a job failed in the audit trail.
type FailureClass string

const (
	FailureClassNone           FailureClass = ""
	FailureClassProvider       FailureClass = "provider"
	FailureClassInfrastructure FailureClass = "infrastructure"
)

// SettlementAudit is an append-only reconciliation record written for every
// terminal outcome. It carries the raw inbound payload, what the provider
// reports having charged and what this system charged, for later discrepancy
// analysis. Rows are never mutated after insert.
type SettlementAudit struct {
	ID             string
	JobID          string
	TaskID         string
	Provider       string
	Outcome        JobStatus
	FailureClass   FailureClass
	ProviderCharge int64
	SystemCharge   int64
	RawPayload     []byte
	Detail         string
	CreatedAt      time.Time
}

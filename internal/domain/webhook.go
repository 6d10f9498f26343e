package domain

import "time"

// WebhookEvent is one row of the idempotency ledger. At most one event may
// exist per (provider task id, callback subtype) pair; a matching row means
// the callback has already been processed.
type WebhookEvent struct {
	ID         string
	TaskID     string
	Subtype    string
	Provider   string
	Payload    []byte
	ReceivedAt time.Time
}

// SecurityEvent records a callback rejected by the validation chain. These
// are observability records only and never touch business state.
type SecurityEvent struct {
	ID         string
	Provider   string
	Layer      string
	Reason     string
	TaskID     string
	SourceIP   string
	Country    string
	OccurredAt time.Time
}

// Validation chain layer names used in security events.
const (
	SecurityLayerURLToken    = "url_token"
	SecurityLayerVerifyToken = "verify_token"
	SecurityLayerTiming      = "timing"
	SecurityLayerIdempotency = "idempotency"
	SecurityLayerSignature   = "signature"
)

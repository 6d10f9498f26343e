package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubtypeComplete is the explicit marker a provider sends on its final
// callback. Anything else is treated as an in-progress partial delivery.
const SubtypeComplete = "complete"

// Callback is the provider-agnostic view of an inbound payload. Providers
// disagree on field names for the same concepts, so decoding tries an ordered
// list of synonyms per field.
type Callback struct {
	TaskID  string
	Subtype string
	State   string
	Code    int
	Message string
	// ResultJSON is the legacy embedded result string some providers still
	// send; the normalizer resolves it before any structured field.
	ResultJSON     string
	ProviderCharge int64
	Raw            map[string]any
	Body           []byte
}

// Final reports whether the callback subtype marks the last delivery for the
// task. A missing subtype is treated as final.
func (c *Callback) Final() bool {
	return c.Subtype == "" || strings.EqualFold(c.Subtype, SubtypeComplete)
}

// FailureReported reports whether the provider signals that the job failed.
func (c *Callback) FailureReported() bool {
	switch strings.ToLower(c.State) {
	case "failed", "fail", "error", "cancelled", "canceled":
		return true
	}
	return false
}

// SucceededState reports whether the provider's state field is a recognized
// success marker.
func (c *Callback) SucceededState() bool {
	switch strings.ToLower(c.State) {
	case "", "succeeded", "success", "completed", "complete", "done", "ok":
		return true
	}
	return false
}

var (
	taskIDFields  = []string{"task_id", "taskId", "request_id", "id"}
	subtypeFields = []string{"callback_type", "type", "event"}
	stateFields   = []string{"state", "status"}
	messageFields = []string{"message", "msg", "error"}
	resultFields  = []string{"result_json", "resultJson", "result"}
	chargeFields  = []string{"credits_used", "charge", "cost"}
)

// DecodeCallback parses a raw provider payload into the canonical envelope.
func DecodeCallback(body []byte) (*Callback, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode callback: %w", err)
	}
	cb := &Callback{Raw: raw, Body: body}
	cb.TaskID = firstString(raw, taskIDFields)
	cb.Subtype = firstString(raw, subtypeFields)
	cb.State = firstString(raw, stateFields)
	cb.Message = firstString(raw, messageFields)
	cb.Code = int(firstNumber(raw, []string{"code"}))
	cb.ProviderCharge = int64(firstNumber(raw, chargeFields))
	for _, f := range resultFields {
		if s, ok := raw[f].(string); ok && strings.TrimSpace(s) != "" {
			cb.ResultJSON = s
			break
		}
	}
	if cb.TaskID == "" {
		return nil, fmt.Errorf("decode callback: no task identifier")
	}
	return cb, nil
}

func firstString(raw map[string]any, fields []string) string {
	for _, f := range fields {
		if s, ok := raw[f].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNumber(raw map[string]any, fields []string) float64 {
	for _, f := range fields {
		switch v := raw[f].(type) {
		case float64:
			return v
		case json.Number:
			if n, err := v.Float64(); err == nil {
				return n
			}
		}
	}
	return 0
}

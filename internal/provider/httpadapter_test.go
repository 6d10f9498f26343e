package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) *HTTPAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewHTTPAdapter(Options{
		Name:    "testprov",
		BaseURL: srv.URL,
		APIKey:  "key-123",
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a
}

func TestHTTPAdapterSubmitAsync(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]any
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "task-9"})
	})

	result, err := a.Submit(context.Background(), SubmitRequest{
		Model:       "m1",
		Prompt:      "a red fox",
		CallbackURL: "https://api.example.com/v1/webhooks/testprov?token=t&verify=v",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.TaskID != "task-9" || result.Inline() {
		t.Fatalf("result = %+v", result)
	}
	if gotAuth != "Bearer key-123" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotPayload["model"] != "m1" {
		t.Fatalf("payload = %v", gotPayload)
	}
	if cb, _ := gotPayload["callback_url"].(string); cb == "" {
		t.Fatalf("payload missing callback_url: %v", gotPayload)
	}
}

func TestHTTPAdapterSubmitInline(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":      base64.StdEncoding.EncodeToString([]byte("png-bytes")),
			"mime_type": "image/png",
		})
	})

	result, err := a.Submit(context.Background(), SubmitRequest{Model: "m1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Inline() {
		t.Fatalf("expected inline result")
	}
	if string(result.InlineData) != "png-bytes" || result.MIME != "image/png" {
		t.Fatalf("result = %+v", result)
	}
}

func TestHTTPAdapterSubmitErrorStatus(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusPaymentRequired)
	})
	_, err := a.Submit(context.Background(), SubmitRequest{Model: "m1"})
	if err == nil || !strings.Contains(err.Error(), "402") {
		t.Fatalf("err = %v", err)
	}
}

func TestHTTPAdapterSubmitEmptyResponse(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	})
	if _, err := a.Submit(context.Background(), SubmitRequest{Model: "m1"}); err == nil {
		t.Fatalf("expected error for empty response")
	}
}

func TestHTTPAdapterPoll(t *testing.T) {
	cases := []struct {
		status     string
		wantDone   bool
		wantFailed bool
	}{
		{"pending", false, false},
		{"succeeded", true, false},
		{"DONE", true, false},
		{"failed", true, true},
		{"cancelled", true, true},
	}
	for _, tc := range cases {
		a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/tasks/") {
				t.Errorf("path = %q", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":     tc.status,
				"result_url": "https://cdn.test/x.png",
			})
		})
		status, err := a.Poll(context.Background(), "task-1")
		if err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		if status.Done != tc.wantDone || status.Failed != tc.wantFailed {
			t.Fatalf("%s: status = %+v", tc.status, status)
		}
	}
}

func TestNewHTTPAdapterRequiresCredentials(t *testing.T) {
	if _, err := NewHTTPAdapter(Options{BaseURL: "http://x"}); err == nil {
		t.Fatalf("missing api key accepted")
	}
	if _, err := NewHTTPAdapter(Options{APIKey: "k"}); err == nil {
		t.Fatalf("missing base url accepted")
	}
}

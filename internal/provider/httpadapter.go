package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingAPIKey indicates that an adapter was configured without
// credentials.
var ErrMissingAPIKey = errors.New("provider: api key is required")

// Options configures an HTTPAdapter.
type Options struct {
	Name           string
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// HTTPAdapter talks to a generation provider over its JSON task API. All of
// the upstream services this service integrates with expose the same shape:
// POST a generation request, receive either a task id or inline data, and
// optionally GET the task until it settles.
type HTTPAdapter struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewHTTPAdapter(opts Options) (*HTTPAdapter, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.BaseURL == "" {
		return nil, errors.New("provider: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPAdapter{
		name:       opts.Name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// Name returns the provider identifier this adapter serves.
func (a *HTTPAdapter) Name() string {
	return a.name
}

type submitPayload struct {
	Model       string         `json:"model"`
	Prompt      string         `json:"prompt,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

type submitResponse struct {
	TaskID  string `json:"task_id"`
	Data    string `json:"data"`
	MIME    string `json:"mime_type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ResultURL string `json:"result_url"`
}

// Submit sends a generation request. The response carries either a task id
// for async processing or the finished content inline.
func (a *HTTPAdapter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	payload := submitPayload{
		Model:       req.Model,
		Prompt:      req.Prompt,
		Params:      req.Params,
		CallbackURL: req.CallbackURL,
	}
	var out submitResponse
	if err := a.post(ctx, "/v1/generate", payload, &out); err != nil {
		return nil, err
	}
	if out.Code != "" && out.Code != "ok" {
		return nil, fmt.Errorf("provider %s: %s: %s", a.name, out.Code, out.Message)
	}
	if out.TaskID != "" {
		return &SubmitResult{TaskID: out.TaskID}, nil
	}
	if out.Data != "" {
		data, err := base64.StdEncoding.DecodeString(out.Data)
		if err != nil {
			return nil, fmt.Errorf("provider %s: decode inline data: %w", a.name, err)
		}
		return &SubmitResult{InlineData: data, MIME: out.MIME}, nil
	}
	return nil, fmt.Errorf("provider %s: response carried neither task id nor data", a.name)
}

// Poll fetches the task state for providers without webhook support.
func (a *HTTPAdapter) Poll(ctx context.Context, taskID string) (*PollStatus, error) {
	var out taskResponse
	if err := a.get(ctx, "/v1/tasks/"+taskID, &out); err != nil {
		return nil, err
	}
	status := &PollStatus{Message: out.Message, ResultURL: out.ResultURL}
	switch strings.ToLower(out.Status) {
	case "succeeded", "completed", "done":
		status.Done = true
	case "failed", "error", "cancelled":
		status.Done = true
		status.Failed = true
	}
	return status, nil
}

func (a *HTTPAdapter) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("provider %s: encode request: %w", a.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	return a.do(req, out)
}

func (a *HTTPAdapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	return a.do(req, out)
}

func (a *HTTPAdapter) do(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("provider %s: read response: %w", a.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn().
			Str("provider", a.name).
			Int("status", resp.StatusCode).
			Msg("provider request rejected")
		return fmt.Errorf("provider %s: http %d: %s", a.name, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("provider %s: decode response: %w", a.name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

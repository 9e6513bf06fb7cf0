package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Run status values reported by the assistant service.
const (
	RunStatusQueued         = "queued"
	RunStatusInProgress     = "in_progress"
	RunStatusRequiresAction = "requires_action"
	RunStatusCompleted      = "completed"
	RunStatusFailed         = "failed"
	RunStatusCancelled      = "cancelled"
	RunStatusExpired        = "expired"
)

type Assistant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Thread groups one prompt and one run; created per insight request and
// never reused.
type Thread struct {
	ID string `json:"id"`
}

type Run struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	LastError *RunLastError `json:"last_error,omitempty"`
}

type RunLastError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Message struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type string       `json:"type"`
	Text *ContentText `json:"text,omitempty"`
}

type ContentText struct {
	Value string `json:"value"`
}

// AssistantAPI is the external assistant job protocol.
type AssistantAPI interface {
	GetAssistant(ctx context.Context, id string) (*Assistant, error)
	CreateThread(ctx context.Context) (*Thread, error)
	PostMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// AssistantClient talks to the assistant service over its REST
// job-submission/poll protocol.
type AssistantClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	logger  *slog.Logger
}

func NewAssistantClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *AssistantClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AssistantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *AssistantClient) GetAssistant(ctx context.Context, id string) (*Assistant, error) {
	var assistant Assistant
	if err := c.do(ctx, http.MethodGet, "/assistants/"+id, nil, &assistant); err != nil {
		return nil, err
	}
	return &assistant, nil
}

func (c *AssistantClient) CreateThread(ctx context.Context) (*Thread, error) {
	var thread Thread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]any{}, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (c *AssistantClient) PostMessage(ctx context.Context, threadID, text string) error {
	payload := map[string]any{
		"role":    "user",
		"content": text,
	}
	return c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", payload, nil)
}

func (c *AssistantClient) StartRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	payload := map[string]any{
		"assistant_id": assistantID,
	}
	var run Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", payload, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *AssistantClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *AssistantClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var listing struct {
		Data []Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &listing); err != nil {
		return nil, err
	}
	return listing.Data, nil
}

func (c *AssistantClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal assistant request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create assistant request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("assistant request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read assistant response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &AssistantError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode assistant response from %s: %w", path, err)
		}
	}
	return nil
}

// AssistantError carries the assistant service's error response.
type AssistantError struct {
	Status int
	Body   string
}

func (e *AssistantError) Error() string {
	return fmt.Sprintf("assistant service returned status %d: %s", e.Status, e.Body)
}

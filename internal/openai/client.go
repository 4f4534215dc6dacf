package openai

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

const assistantsBetaHeader = "assistants=v2"

// Client talks to the external AI provider. Streaming calls use a
// dedicated client without a global timeout so long runs are not cut off.
type Client struct {
	baseURL         string
	apiKey          string
	httpClient      *http.Client
	streamingClient *http.Client
	logger          *slog.Logger
}

// NewClient creates a provider client.
func NewClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:         baseURL,
		apiKey:          apiKey,
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
		logger:          log.With(slog.String("service", "openai_client")),
	}
}

// --- knowledge stores ---

func (c *Client) CreateVectorStore(ctx context.Context, name string) (VectorStore, error) {
	var out VectorStore
	err := c.doJSON(ctx, http.MethodPost, "/vector_stores", map[string]any{"name": name}, &out)
	return out, err
}

func (c *Client) DeleteVectorStore(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/vector_stores/"+id, nil, nil)
}

// --- assistants ---

func (c *Client) CreateAssistant(ctx context.Context, params AssistantParams) (Assistant, error) {
	var out Assistant
	err := c.doJSON(ctx, http.MethodPost, "/assistants", params, &out)
	return out, err
}

func (c *Client) GetAssistant(ctx context.Context, id string) (Assistant, error) {
	var out Assistant
	err := c.doJSON(ctx, http.MethodGet, "/assistants/"+id, nil, &out)
	return out, err
}

func (c *Client) UpdateAssistant(ctx context.Context, id string, params AssistantParams) (Assistant, error) {
	var out Assistant
	err := c.doJSON(ctx, http.MethodPost, "/assistants/"+id, params, &out)
	return out, err
}

func (c *Client) DeleteAssistant(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/assistants/"+id, nil, nil)
}

// --- sessions ---

// CreateSession creates an empty provider-side conversation session.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var out Session
	err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, &out)
	return out, err
}

// AddSessionMessage appends a user message to a provider session.
func (c *Client) AddSessionMessage(ctx context.Context, sessionID, content string) error {
	payload := map[string]any{"role": "user", "content": content}
	return c.doJSON(ctx, http.MethodPost, "/threads/"+sessionID+"/messages", payload, nil)
}

// --- plumbing ---

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.setHeaders(req, payload != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
		if resp.StatusCode != http.StatusNotFound {
			c.logger.Error("provider request failed",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.String("body_prefix", truncate(string(respBody), 300)),
			)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", assistantsBetaHeader)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

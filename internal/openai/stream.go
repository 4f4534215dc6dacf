package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Run lifecycle event names on the session wire protocol.
const (
	eventMessageDelta = "thread.message.delta"
	eventRunCompleted = "thread.run.completed"
	eventRunFailed    = "thread.run.failed"
)

// StreamRun starts a streaming run against a session and returns its
// unified event stream. The channel is closed when the run ends, fails,
// or ctx is cancelled.
func (c *Client) StreamRun(ctx context.Context, sessionID, assistantID string) (<-chan StreamEvent, error) {
	payload := map[string]any{"assistant_id": assistantID, "stream": true}
	resp, err := c.openStream(ctx, "/threads/"+sessionID+"/runs", payload)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.consumeRunStream(ctx, resp.Body, events)
	}()
	return events, nil
}

func (c *Client) consumeRunStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	scanner := newSSEScanner(body)
	currentEvent := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		switch currentEvent {
		case eventMessageDelta:
			if delta := parseMessageDelta(data); delta != "" {
				if !emit(ctx, events, StreamEvent{Delta: delta}) {
					return
				}
			}
		case eventRunCompleted:
			emit(ctx, events, StreamEvent{Done: true})
			return
		case eventRunFailed:
			emit(ctx, events, StreamEvent{Err: fmt.Errorf("run failed: %s", parseRunError(data))})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, events, StreamEvent{Err: err})
		return
	}
	// Stream ended without a terminal lifecycle event.
	emit(ctx, events, StreamEvent{Err: fmt.Errorf("run stream ended unexpectedly")})
}

// StreamChatCompletion opens a token-delta completion stream and returns
// its unified event stream.
func (c *Client) StreamChatCompletion(ctx context.Context, model string, messages []ChatMessage) (<-chan StreamEvent, error) {
	payload := map[string]any{"model": model, "messages": messages, "stream": true}
	resp, err := c.openStream(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		c.consumeCompletionStream(ctx, resp.Body, events)
	}()
	return events, nil
}

func (c *Client) consumeCompletionStream(ctx context.Context, body io.Reader, events chan<- StreamEvent) {
	scanner := newSSEScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			emit(ctx, events, StreamEvent{Done: true})
			return
		}
		delta, err := parseCompletionDelta(data)
		if err != nil {
			c.logger.Warn("skip malformed completion chunk", slog.Any("error", err))
			continue
		}
		if delta != "" {
			if !emit(ctx, events, StreamEvent{Delta: delta}) {
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		emit(ctx, events, StreamEvent{Err: err})
		return
	}
	// Completion streams terminate with [DONE]; a bare EOF still counts as
	// a clean end so accumulated output is not thrown away.
	emit(ctx, events, StreamEvent{Done: true})
}

// --- plumbing ---

func (c *Client) openStream(ctx context.Context, path string, payload any) (*http.Response, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, true)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamingClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.logger.Error("provider stream connect failed",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(errBody), 300)),
		)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(errBody)}
	}
	return resp, nil
}

func newSSEScanner(body io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return scanner
}

// emit delivers an event unless ctx is done; false means the consumer is
// gone and the stream should stop.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseMessageDelta(data string) string {
	var envelope struct {
		Delta struct {
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range envelope.Delta.Content {
		if part.Type == "" || part.Type == "text" {
			sb.WriteString(part.Text.Value)
		}
	}
	return sb.String()
}

func parseRunError(data string) string {
	var envelope struct {
		LastError struct {
			Message string `json:"message"`
		} `json:"last_error"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err == nil && envelope.LastError.Message != "" {
		return envelope.LastError.Message
	}
	return "provider reported a failed run"
}

func parseCompletionDelta(data string) (string, error) {
	var envelope struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return "", err
	}
	if len(envelope.Choices) == 0 {
		return "", nil
	}
	return envelope.Choices[0].Delta.Content, nil
}

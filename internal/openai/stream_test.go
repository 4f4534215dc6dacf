package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sseServer(t *testing.T, wantPath string, lines []string, gotBody *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if gotBody != nil {
			_ = json.NewDecoder(r.Body).Decode(gotBody)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			_, _ = io.WriteString(w, line+"\n")
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// drain collects a whole event stream, separating deltas from the
// terminal event.
func drain(t *testing.T, events <-chan StreamEvent) (deltas []string, done bool, err error) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return deltas, done, err
			}
			switch {
			case ev.Err != nil:
				err = ev.Err
			case ev.Done:
				done = true
			default:
				deltas = append(deltas, ev.Delta)
			}
		case <-timeout:
			t.Fatal("event stream did not close in time")
		}
	}
}

func TestStreamChatCompletion(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := sseServer(t, "/chat/completions", []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo!"}}]}`,
		``,
		`data: [DONE]`,
	}, &body)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamChatCompletion(context.Background(), "gpt-4o", []ChatMessage{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	require.NoError(t, streamErr)
	assert.True(t, done)
	assert.Equal(t, []string{"Hel", "lo!"}, deltas)
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "gpt-4o", body["model"])
}

func TestStreamChatCompletionBareEOFIsClean(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, "/chat/completions", []string{
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
	}, nil)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamChatCompletion(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	require.NoError(t, streamErr)
	assert.True(t, done)
	assert.Equal(t, []string{"partial"}, deltas)
}

func TestStreamChatCompletionSkipsMalformedChunks(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, "/chat/completions", []string{
		`data: {not json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	}, nil)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamChatCompletion(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	require.NoError(t, streamErr)
	assert.True(t, done)
	assert.Equal(t, []string{"ok"}, deltas)
}

func TestStreamChatCompletionConnectError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	t.Cleanup(srv.Close)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	_, err := client.StreamChatCompletion(context.Background(), "gpt-4o", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "rate limited")
}

func TestStreamRun(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := sseServer(t, "/threads/sess-1/runs", []string{
		`event: thread.message.delta`,
		`data: {"delta":{"content":[{"type":"text","text":{"value":"An"}}]}}`,
		``,
		`event: thread.message.delta`,
		`data: {"delta":{"content":[{"type":"text","text":{"value":"swer"}}]}}`,
		``,
		`event: thread.run.completed`,
		`data: {"id":"run_1"}`,
	}, &body)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamRun(context.Background(), "sess-1", "asst_1")
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	require.NoError(t, streamErr)
	assert.True(t, done)
	assert.Equal(t, []string{"An", "swer"}, deltas)
	assert.Equal(t, "asst_1", body["assistant_id"])
	assert.Equal(t, true, body["stream"])
}

func TestStreamRunFailure(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, "/threads/sess-1/runs", []string{
		`event: thread.message.delta`,
		`data: {"delta":{"content":[{"type":"text","text":{"value":"Par"}}]}}`,
		``,
		`event: thread.run.failed`,
		`data: {"last_error":{"message":"model overloaded"}}`,
	}, nil)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamRun(context.Background(), "sess-1", "asst_1")
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	assert.Equal(t, []string{"Par"}, deltas)
	assert.False(t, done)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "model overloaded")
}

// Unlike the completion protocol, a run stream has an explicit terminal
// event; losing the connection before it arrives is an error.
func TestStreamRunBareEOFIsError(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, "/threads/sess-1/runs", []string{
		`event: thread.message.delta`,
		`data: {"delta":{"content":[{"type":"text","text":{"value":"Par"}}]}}`,
	}, nil)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	events, err := client.StreamRun(context.Background(), "sess-1", "asst_1")
	require.NoError(t, err)

	deltas, done, streamErr := drain(t, events)
	assert.Equal(t, []string{"Par"}, deltas)
	assert.False(t, done)
	require.Error(t, streamErr)
}

func TestStreamRunCancelledContextStopsDelivery(t *testing.T) {
	t.Parallel()

	srv := sseServer(t, "/threads/sess-1/runs", []string{
		`event: thread.message.delta`,
		`data: {"delta":{"content":[{"type":"text","text":{"value":"a"}}]}}`,
		``,
		`event: thread.run.completed`,
		`data: {}`,
	}, nil)
	client := NewClient(testLogger(), srv.URL, "sk-test", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.StreamRun(ctx, "sess-1", "asst_1")
	require.NoError(t, err)
	cancel()

	// The goroutine must close the channel even with no reader draining
	// events after cancellation.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

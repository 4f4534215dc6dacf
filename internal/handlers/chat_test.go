package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaignhq/assistant/internal/chat"
	"github.com/campaignhq/assistant/internal/store"
	"github.com/campaignhq/assistant/internal/thread"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubChatService struct {
	exchange   *chat.Exchange
	prepareErr error
	chunks     []string
	streamErr  error

	preparedFor string
	streamed    bool
}

func (s *stubChatService) Prepare(_ context.Context, userID string, _ chat.Request) (*chat.Exchange, error) {
	s.preparedFor = userID
	if s.prepareErr != nil {
		return nil, s.prepareErr
	}
	return s.exchange, nil
}

func (s *stubChatService) Stream(_ context.Context, _ *chat.Exchange, sink chat.Sink) error {
	s.streamed = true
	for _, chunk := range s.chunks {
		if err := sink.Write(chunk); err != nil {
			return err
		}
	}
	return s.streamErr
}

func newChatContext(t *testing.T, body string, authenticated bool) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if authenticated {
		c.Set("user", &jwt.Token{
			Valid:  true,
			Claims: jwt.MapClaims{"user_id": "user-1"},
		})
	}
	return c, rec
}

func TestStreamChatNewThread(t *testing.T) {
	t.Parallel()

	svc := &stubChatService{
		exchange: &chat.Exchange{
			Strategy:  thread.StrategyCompletion,
			Thread:    store.Thread{ID: "thr-1", UserID: "user-1"},
			NewThread: true,
		},
		chunks: []string{"Hel", "lo!"},
	}
	h := NewChatHandler(testLogger(), svc)
	c, rec := newChatContext(t, `{"message":"hi","assistantId":"cfg-1"}`, true)

	require.NoError(t, h.StreamChat(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "thr-1", rec.Header().Get(HeaderThreadID))
	assert.Equal(t, "Hello!", rec.Body.String())
	assert.Equal(t, "user-1", svc.preparedFor)
}

func TestStreamChatExistingThreadOmitsHeader(t *testing.T) {
	t.Parallel()

	svc := &stubChatService{
		exchange: &chat.Exchange{
			Thread: store.Thread{ID: "thr-1", UserID: "user-1"},
		},
		chunks: []string{"ok"},
	}
	h := NewChatHandler(testLogger(), svc)
	c, rec := newChatContext(t, `{"message":"hi","assistantId":"cfg-1","thread_id":"thr-1"}`, true)

	require.NoError(t, h.StreamChat(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderThreadID))
}

func TestStreamChatRequiresAuth(t *testing.T) {
	t.Parallel()

	h := NewChatHandler(testLogger(), &stubChatService{})
	c, _ := newChatContext(t, `{"message":"hi","assistantId":"cfg-1"}`, false)

	err := h.StreamChat(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.Code)
}

func TestStreamChatValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing message", body: `{"assistantId":"cfg-1"}`},
		{name: "missing assistant id", body: `{"message":"hi"}`},
		{name: "malformed json", body: `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubChatService{}
			h := NewChatHandler(testLogger(), svc)
			c, rec := newChatContext(t, tt.body, true)

			require.NoError(t, h.StreamChat(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, svc.streamed)
		})
	}
}

func TestStreamChatSetupErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown assistant", err: store.ErrConfigNotFound, want: http.StatusNotFound},
		{name: "unknown thread", err: store.ErrThreadNotFound, want: http.StatusBadRequest},
		{name: "foreign thread", err: thread.ErrAccessDenied, want: http.StatusForbidden},
		{name: "unknown file", err: store.ErrFileNotFound, want: http.StatusBadRequest},
		{name: "unprocessed file", err: chat.ErrFileNotProcessed, want: http.StatusBadRequest},
		{name: "provider outage", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(testLogger(), &stubChatService{prepareErr: tt.err})
			c, rec := newChatContext(t, `{"message":"hi","assistantId":"cfg-1"}`, true)

			require.NoError(t, h.StreamChat(c))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
		})
	}
}

// A mid-stream failure must not change the response status: headers are
// already on the wire, so the handler reports success either way.
func TestStreamChatMidStreamFailureKeepsStatus(t *testing.T) {
	t.Parallel()

	svc := &stubChatService{
		exchange:  &chat.Exchange{Thread: store.Thread{ID: "thr-1"}},
		chunks:    []string{"partial"},
		streamErr: context.Canceled,
	}
	h := NewChatHandler(testLogger(), svc)
	c, rec := newChatContext(t, `{"message":"hi","assistantId":"cfg-1"}`, true)

	require.NoError(t, h.StreamChat(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

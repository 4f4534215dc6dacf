package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/campaignhq/assistant/internal/auth"
	"github.com/campaignhq/assistant/internal/chat"
	"github.com/campaignhq/assistant/internal/store"
	"github.com/campaignhq/assistant/internal/thread"
)

// HeaderThreadID carries the internal thread id back to the caller when
// a new thread was created, so the conversation can be resumed without
// parsing the body.
const HeaderThreadID = "X-Thread-ID"

// ChatService is the orchestration surface the handler drives.
type ChatService interface {
	Prepare(ctx context.Context, userID string, req chat.Request) (*chat.Exchange, error)
	Stream(ctx context.Context, ex *chat.Exchange, sink chat.Sink) error
}

type ChatHandler struct {
	service  ChatService
	validate *validator.Validate
	logger   *slog.Logger
}

func NewChatHandler(log *slog.Logger, service ChatService) *ChatHandler {
	return &ChatHandler{
		service:  service,
		validate: validator.New(),
		logger:   log.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/chat/stream", h.StreamChat)
}

// StreamChat accepts one chat turn and streams the assistant's answer
// back as raw chunked text. Failures before the first write are JSON
// error responses; after that, in-band text only.
func (h *ChatHandler) StreamChat(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}

	var req chat.Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message and assistantId are required"})
	}

	ctx := c.Request().Context()
	ex, err := h.service.Prepare(ctx, userID, req)
	if err != nil {
		status, msg := statusFor(err)
		h.logger.Error("chat setup failed",
			slog.String("assistant_config_id", req.AssistantID),
			slog.String("thread_id", req.ThreadID),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		return c.JSON(status, ErrorResponse{Error: msg})
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	if ex.NewThread {
		resp.Header().Set(HeaderThreadID, ex.Thread.ID)
	}
	resp.WriteHeader(http.StatusOK)

	// Stream errors were already surfaced in-band; the status line is
	// long gone.
	_ = h.service.Stream(ctx, ex, &responseSink{resp: resp})
	return nil
}

// responseSink writes assistant text to the chunked response, flushing
// each write so tokens reach the client as they arrive. The write itself
// provides backpressure against the client socket.
type responseSink struct {
	resp *echo.Response
}

func (s *responseSink) Write(text string) error {
	if _, err := s.resp.Write([]byte(text)); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrConfigNotFound):
		return http.StatusNotFound, "assistant not found"
	case errors.Is(err, store.ErrThreadNotFound):
		return http.StatusBadRequest, "thread not found"
	case errors.Is(err, thread.ErrAccessDenied):
		return http.StatusForbidden, "thread belongs to another user"
	case errors.Is(err, store.ErrFileNotFound):
		return http.StatusBadRequest, "referenced file is unknown"
	case errors.Is(err, chat.ErrFileNotProcessed):
		return http.StatusBadRequest, "referenced file has not been processed yet"
	default:
		return http.StatusInternalServerError, "could not start the conversation"
	}
}

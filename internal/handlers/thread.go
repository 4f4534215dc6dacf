package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/campaignhq/assistant/internal/auth"
	"github.com/campaignhq/assistant/internal/store"
)

// ThreadHandler serves the read-only collaborator surface: the UI lists
// conversations and renders persisted turns through these routes.
type ThreadHandler struct {
	threads  store.Threads
	messages store.Messages
	logger   *slog.Logger
}

func NewThreadHandler(log *slog.Logger, threads store.Threads, messages store.Messages) *ThreadHandler {
	return &ThreadHandler{
		threads:  threads,
		messages: messages,
		logger:   log.With(slog.String("handler", "thread")),
	}
}

func (h *ThreadHandler) Register(e *echo.Echo) {
	group := e.Group("/threads")
	group.GET("", h.ListThreads)
	group.GET("/:thread_id/messages", h.ListMessages)
}

// ListThreads returns the caller's threads, most recently active first.
func (h *ThreadHandler) ListThreads(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	threads, err := h.threads.ListThreadsByUser(c.Request().Context(), userID)
	if err != nil {
		h.logger.Error("list threads failed", slog.String("user_id", userID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not list threads"})
	}
	if threads == nil {
		threads = []store.Thread{}
	}
	return c.JSON(http.StatusOK, threads)
}

// ListMessages returns a thread's turns in chronological order.
func (h *ThreadHandler) ListMessages(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return err
	}
	threadID := c.Param("thread_id")

	thread, err := h.threads.GetThread(c.Request().Context(), threadID)
	if err != nil {
		if errors.Is(err, store.ErrThreadNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "thread not found"})
		}
		h.logger.Error("load thread failed", slog.String("thread_id", threadID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not load thread"})
	}
	if thread.UserID != userID {
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "thread belongs to another user"})
	}

	messages, err := h.messages.ListMessagesByThread(c.Request().Context(), threadID)
	if err != nil {
		h.logger.Error("list messages failed", slog.String("thread_id", threadID), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "could not list messages"})
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

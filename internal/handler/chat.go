package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"aichat-backend/internal/model"
	"aichat-backend/internal/service"
	"aichat-backend/internal/stream"
	"aichat-backend/pkg/logger"
)

// ChatIDHeader carries the id of the session a streamed reply belongs to.
const ChatIDHeader = "X-Chat-Id"

type ChatHandler struct {
	chatService   *service.ChatService
	streamTimeout time.Duration
}

func NewChatHandler(chatService *service.ChatService, streamTimeout time.Duration) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		streamTimeout: streamTimeout,
	}
}

func (h *ChatHandler) streamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.streamTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.streamTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := h.streamContext(c)
	defer cancel()

	chatID, events, err := h.chatService.StreamChat(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	pipe(c, cancel, chatID, events)
}

func (h *ChatHandler) StreamMultiChat(c *gin.Context) {
	var req model.MultiChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := h.streamContext(c)
	defer cancel()

	chatID, events, err := h.chatService.StreamMultiChat(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}
	pipe(c, cancel, chatID, events)
}

// pipe writes events as SSE frames until the producer closes the channel. A
// failed write cancels the producer but the channel is still drained so the
// reply gets persisted.
func pipe(c *gin.Context, cancel context.CancelFunc, chatID string, events <-chan stream.Event) {
	c.Header(ChatIDHeader, chatID)
	w := stream.NewWriter(c.Writer)
	c.Status(http.StatusOK)

	broken := false
	for e := range events {
		if broken {
			continue
		}
		if err := w.Send(e); err != nil {
			logger.Warnf("stream to chat %s aborted: %v", chatID, err)
			broken = true
			cancel()
		}
	}
	if !broken {
		_ = w.Close()
	}
}

func (h *ChatHandler) Compare(c *gin.Context) {
	var req model.CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	resp, err := h.chatService.Compare(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, resp)
}

func (h *ChatHandler) SelectModel(c *gin.Context) {
	var req model.SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	resp, err := h.chatService.SelectModel(req)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, resp)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"aichat-backend/internal/model"
)

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.chatService.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, sessions)
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// An empty body is allowed and yields the default title.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, session)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.chatService.GetSession(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if err := h.chatService.DeleteSession(id); err != nil {
		respondError(c, err)
		return
	}
	ok(c, gin.H{"id": id})
}

func (h *ChatHandler) RenameSession(c *gin.Context) {
	var req model.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	session, err := h.chatService.RenameSession(c.Param("id"), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	ok(c, session.Summary())
}

func (h *ChatHandler) Health(c *gin.Context) {
	health, err := h.chatService.Health()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, model.HealthResponse{Status: "unavailable"})
		return
	}
	c.JSON(http.StatusOK, health)
}

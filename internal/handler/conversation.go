package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/apperr"
	"fund-connect/internal/messaging"
	"fund-connect/internal/middleware"
)

type ConversationHandler struct {
	Messaging *messaging.Service
}

// Lookup serves the query-string form, GET /get-conversation?id=.
func (h *ConversationHandler) Lookup(c *gin.Context) {
	h.get(c, strings.TrimSpace(c.Query("id")))
}

func (h *ConversationHandler) Get(c *gin.Context) {
	h.get(c, c.Param("id"))
}

func (h *ConversationHandler) get(c *gin.Context, id string) {
	caller, ok := callerID(c)
	if !ok {
		return
	}
	if id == "" {
		middleware.RespondError(c, apperr.Validation("id is required"))
		return
	}

	conv, err := h.Messaging.GetConversation(c.Request.Context(), caller, id)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	convs, err := h.Messaging.ListConversations(c.Request.Context(), caller)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

type openConversationBody struct {
	CounterpartID string `json:"counterpartId" binding:"required"`
}

func (h *ConversationHandler) Open(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body openConversationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RespondError(c, apperr.Validation("counterpartId is required"))
		return
	}

	conv, created, err := h.Messaging.OpenConversation(c.Request.Context(), caller, body.CounterpartID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	after := int64(0)
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			middleware.RespondError(c, apperr.Validation("Invalid cursor format"))
			return
		}
		after = v
	}

	msgs, err := h.Messaging.LoadMessages(c.Request.Context(), caller, c.Param("id"), after)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageBody struct {
	Content string `json:"content"`
}

func (h *ConversationHandler) Send(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body sendMessageBody
	if !bindJSON(c, &body) {
		return
	}

	msg, err := h.Messaging.AppendMessage(c.Request.Context(), c.Param("id"), caller, body.Content)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func (h *ConversationHandler) Read(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	readAt, err := h.Messaging.MarkReadAs(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readAt": readAt})
}

package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/apperr"
	"fund-connect/internal/identity"
	"fund-connect/internal/middleware"
	"fund-connect/internal/model"
)

type RoleHandler struct {
	Identity *identity.Service
}

func (h *RoleHandler) CheckRole(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		middleware.RespondError(c, apperr.Validation("userId is required"))
		return
	}

	check, err := h.Identity.CheckRole(c.Request.Context(), userID)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, check)
}

func (h *RoleHandler) ListAgents(c *gin.Context) {
	agents, err := h.Identity.ListAgents(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *RoleHandler) ListInvestors(c *gin.Context) {
	investors, err := h.Identity.ListInvestors(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, investors)
}

type assignRoleBody struct {
	UserID             string `json:"userId" binding:"required"`
	Role               string `json:"role" binding:"required"`
	Name               string `json:"name"`
	Firm               string `json:"firm"`
	IntroducingAgentID string `json:"introducingAgentId"`
}

func (h *RoleHandler) AssignRole(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body assignRoleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		middleware.RespondError(c, apperr.Validation("userId and role are required"))
		return
	}
	role, err := model.ParseRole(body.Role)
	if err != nil {
		middleware.RespondError(c, apperr.Validation("role must be agent or investor"))
		return
	}

	res, err := h.Identity.AssignRole(c.Request.Context(), caller, identity.AssignRoleInput{
		UserID:             body.UserID,
		Role:               role,
		Name:               body.Name,
		Firm:               body.Firm,
		IntroducingAgentID: body.IntroducingAgentID,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}

	var record any
	switch res.Role {
	case model.RoleAgent:
		record = res.Agent
	case model.RoleInvestor:
		record = res.Investor
	case model.RoleNone:
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"created": res.Created,
		"role":    res.Role,
		"record":  record,
	})
}

func (h *RoleHandler) Me(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	id, err := h.Identity.Resolve(c.Request.Context(), caller)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

type ProfileHandler struct {
	Identity *identity.Service
}

func (h *ProfileHandler) Get(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	p, err := h.Identity.GetProfile(c.Request.Context(), caller)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type profileBody struct {
	DisplayName string `json:"displayName" binding:"max=200"`
	Email       string `json:"email" binding:"omitempty,email"`
	AvatarURL   string `json:"avatarUrl" binding:"omitempty,url"`
}

func (h *ProfileHandler) Put(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body profileBody
	if !bindJSON(c, &body) {
		return
	}
	p, err := h.Identity.UpsertProfile(c.Request.Context(), caller, identity.ProfileInput{
		DisplayName: body.DisplayName,
		Email:       body.Email,
		AvatarURL:   body.AvatarURL,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/funds"
	"fund-connect/internal/middleware"
	"fund-connect/internal/model"
)

type FundHandler struct {
	Funds *funds.Service
}

func (h *FundHandler) List(c *gin.Context) {
	list, err := h.Funds.ListFunds(c.Request.Context(), model.FundFilter{
		Query:    c.Query("q"),
		Strategy: c.Query("strategy"),
		AgentID:  c.Query("agentId"),
		Status:   c.Query("status"),
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"funds": list})
}

func (h *FundHandler) Get(c *gin.Context) {
	f, err := h.Funds.GetFund(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

type createFundBody struct {
	Name          string `json:"name" binding:"required,max=200"`
	Strategy      string `json:"strategy" binding:"max=100"`
	TargetSize    int64  `json:"targetSize" binding:"gte=0"`
	MinInvestment int64  `json:"minInvestment" binding:"gte=0"`
	Description   string `json:"description"`
}

func (h *FundHandler) Create(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body createFundBody
	if !bindJSON(c, &body) {
		return
	}
	f, err := h.Funds.CreateFund(c.Request.Context(), caller, funds.CreateFundInput{
		Name:          body.Name,
		Strategy:      body.Strategy,
		TargetSize:    body.TargetSize,
		MinInvestment: body.MinInvestment,
		Description:   body.Description,
	})
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

type interestBody struct {
	Note string `json:"note"`
}

func (h *FundHandler) ExpressInterest(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body interestBody
	// The body is optional.
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}
	in, created, err := h.Funds.ExpressInterest(c.Request.Context(), caller, c.Param("id"), body.Note)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"interest": in, "created": created})
}

func (h *FundHandler) ListInterests(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	list, err := h.Funds.ListInterests(c.Request.Context(), caller)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interests": list})
}

type respondBody struct {
	Accept *bool `json:"accept" binding:"required"`
}

func (h *FundHandler) Respond(c *gin.Context) {
	caller, ok := callerID(c)
	if !ok {
		return
	}

	var body respondBody
	if !bindJSON(c, &body) {
		return
	}
	in, err := h.Funds.RespondToInterest(c.Request.Context(), caller, c.Param("id"), *body.Accept)
	if err != nil {
		middleware.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

// Package handler adapts the domain services to gin routes.
package handler

import (
	"github.com/gin-gonic/gin"

	"fund-connect/internal/apperr"
	"fund-connect/internal/middleware"
)

func callerID(c *gin.Context) (string, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		middleware.RespondError(c, apperr.Unauthorized("Invalid authentication token"))
	}
	return userID, ok
}

func bindJSON(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		middleware.RespondError(c, apperr.Validation("Invalid request"))
		return false
	}
	return true
}

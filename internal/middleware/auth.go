package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fund-connect/internal/apperr"
	"fund-connect/internal/auth"
)

const userIDContextKey = "userID"

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

// RespondError writes err as {"error", "details"?} with its mapped status and
// records it on the context for the request logger.
func RespondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	_ = c.Error(err)
	body := gin.H{"error": appErr.Message}
	if appErr.Details != "" {
		body["details"] = appErr.Details
	}
	status := appErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, body)
}

// RequireAuth accepts a bearer token in the Authorization header, or in the
// token query parameter for websocket upgrades.
func RequireAuth(cfg auth.TokenConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			RespondError(c, apperr.Unauthorized("Invalid authentication token"))
			return
		}

		claims, err := auth.VerifyToken(token, cfg)
		if err != nil {
			RespondError(c, apperr.New(apperr.CodeUnauthorized, "Invalid authentication token", http.StatusUnauthorized, err))
			return
		}

		c.Set(userIDContextKey, claims.UserID())
		c.Next()
	}
}

var errNoToken = errors.New("no bearer token")

func bearerToken(c *gin.Context) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errNoToken
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := c.Query("token"); token != "" {
		return token, nil
	}
	return "", errNoToken
}

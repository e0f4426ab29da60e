package httpkit

import (
	"errors"
	"net/http"

	"leadflow_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func Error(c *gin.Context, status int, message string, details any) {
	c.JSON(status, ErrorResponse{Error: message, Details: details})
}

func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// Accepted answers {"ok":true} for commands with nothing else to report.
func Accepted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// HandleError writes err and reports whether there was one. Typed errors keep
// their message and status; anything else is recorded on the context and
// answered with an opaque 500.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	var typed *apperr.Error
	if errors.As(err, &typed) {
		if typed.Err != nil {
			_ = c.Error(typed.Err)
		}
		Error(c, typed.HTTPStatus(), typed.Message, typed.Details)
		return true
	}
	_ = c.Error(err)
	Error(c, http.StatusInternalServerError, "internal error", nil)
	return true
}

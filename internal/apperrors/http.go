package apperrors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/snaprepair/backend/internal/logger"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as an APIError and aborts the request. Internal
// errors are logged and their message hidden from the caller.
func Respond(c *gin.Context, err error) {
	status := StatusCode(err)
	body := APIError{Error: err.Error()}

	var appErr *Error
	if errors.As(err, &appErr) {
		body.Error = appErr.Message
		body.Details = appErr.Details
	}
	if status == http.StatusInternalServerError {
		logger.WithError(err, "api").WithField("path", c.FullPath()).Error("Request failed")
		body = APIError{Error: "internal server error"}
	}

	c.AbortWithStatusJSON(status, body)
}

// AbortWithBadRequest sends a 400 for malformed input that never reached the service layer.
func AbortWithBadRequest(c *gin.Context, message string, details map[string]interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Error: message, Details: details})
}

// AbortWithUnauthorized sends a 401.
func AbortWithUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, APIError{Error: message})
}

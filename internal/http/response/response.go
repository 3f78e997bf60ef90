package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAppError picks the status from the error's code.
func RespondAppError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	RespondError(c, StatusFor(code), string(code), err)
}

func StatusFor(code apperr.Code) int {
	switch code {
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	case apperr.CacheUnavailable:
		return http.StatusServiceUnavailable
	case apperr.ProcessingTimeout:
		return http.StatusGatewayTimeout
	case apperr.FileTooLarge, apperr.TooManyElements:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

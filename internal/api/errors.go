package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wardenfs/warden/pkg/storage"
)

// errorResponse is the JSON error envelope. Messages are the engine's
// non-leaking messages; internal failure detail never reaches the client.
type errorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code"`
	Fields []string `json:"fields,omitempty"`
}

// writeError translates a domain error into an HTTP response.
func writeError(c *gin.Context, err error) {
	var se *storage.StoreError
	if !asStoreError(err, &se) {
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error: "internal server error",
			Code:  "internal",
		})
		return
	}

	status := statusFor(se.Code)
	if se.Code == storage.ErrRateLimited {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(se.Remaining))
	}

	c.JSON(status, errorResponse{
		Error:  se.Message,
		Code:   se.Code.String(),
		Fields: se.Fields,
	})
}

func statusFor(code storage.ErrorCode) int {
	switch code {
	case storage.ErrUnauthorized:
		return http.StatusUnauthorized
	case storage.ErrForbidden:
		return http.StatusForbidden
	case storage.ErrNotFound:
		return http.StatusNotFound
	case storage.ErrValidationFailed, storage.ErrInvalidArgument, storage.ErrNotAFile:
		return http.StatusBadRequest
	case storage.ErrAlreadyExists:
		return http.StatusConflict
	case storage.ErrRateLimited:
		return http.StatusTooManyRequests
	case storage.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func asStoreError(err error, target **storage.StoreError) bool {
	return errors.As(err, target)
}

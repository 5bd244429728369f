package fhirapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fhirdoc/internal/core"
	"fhirdoc/internal/encoding"
	"fhirdoc/pkg/domain"
)

// errBadRequest marks request-shape problems detected by the handlers.
var errBadRequest = errors.New("bad request")

// statusFor maps an error to an HTTP status and an OperationOutcome issue code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrObserverFailure), errors.Is(err, core.ErrStoreFailure):
		return http.StatusInternalServerError, "exception"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, encoding.ErrUnsupportedFormat):
		return http.StatusNotAcceptable, "not-supported"
	case errors.Is(err, core.ErrInvalidResource), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, core.ErrArchiveDisabled):
		return http.StatusBadRequest, "not-supported"
	case errors.Is(err, core.ErrDocumentTooLarge):
		return http.StatusUnprocessableEntity, "too-costly"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "exception"
	}
}

func respondOutcome(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.Header("Content-Type", encoding.ContentTypeJSON)
	c.AbortWithStatusJSON(status, domain.NewOperationOutcome(code, err.Error()))
}

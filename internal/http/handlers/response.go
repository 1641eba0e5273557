// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all endpoints: the error
// envelope, the service-error mapper and the success writers.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	Retry-After: 1
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "concurrent_reroute",
//	  "message": "another reroute is in progress for this prescription",
//	  "retry": "as_is"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-pharmacy-backend/internal/http/middleware"
	"github.com/tbourn/go-pharmacy-backend/internal/services"
)

// retryAfterSeconds is advertised on retryable 409s. Reroutes hold the
// prescription lock for well under a second.
const retryAfterSeconds = "1"

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"version_conflict"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"version conflict"`
	// Retry hint: as_is, refetch or never
	Retry string `json:"retry" example:"refetch" enums:"as_is,refetch,never"`
	// Offending fields for validation_failed
	Fields map[string]string `json:"fields,omitempty"`
}

// defaultRetry picks the hint for errors raised directly by handlers.
func defaultRetry(status int) string {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return RetryAsIs
	}
	return RetryNever
}

func write(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("message", resp.Message).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, resp)
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	write(c, status, ErrorResponse{Code: code, Message: msg, Retry: defaultRetry(status)})
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to status, code and retry hint. Unknown errors
// become an opaque 500; the cause goes to the log, not the client.
func failErr(c *gin.Context, err error) {
	var re *services.ReplayedError
	if errors.As(err, &re) {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}

	resp := ErrorResponse{Message: err.Error(), Retry: RetryNever}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, services.ErrValidation):
		status, resp.Code = http.StatusBadRequest, ErrCodeValidation
		var ve *services.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = ve.Fields
		}
	case errors.Is(err, services.ErrVersionConflict):
		status, resp.Code, resp.Retry = http.StatusConflict, ErrCodeVersionConflict, RetryRefetch
	case errors.Is(err, services.ErrConcurrentRerouteInProgress):
		status, resp.Code, resp.Retry = http.StatusConflict, ErrCodeConcurrentReroute, RetryAsIs
		c.Header("Retry-After", retryAfterSeconds)
	case errors.Is(err, services.ErrRequestInFlight):
		status, resp.Code, resp.Retry = http.StatusConflict, ErrCodeRequestInFlight, RetryAsIs
		c.Header("Retry-After", retryAfterSeconds)
	case errors.Is(err, services.ErrIdempotencyKeyReuse):
		status, resp.Code = http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyReuse
	case errors.Is(err, services.ErrIneligibleTarget):
		status, resp.Code = http.StatusUnprocessableEntity, ErrCodeIneligibleTarget
	case errors.Is(err, services.ErrNotReroutable):
		status, resp.Code = http.StatusUnprocessableEntity, ErrCodeNotReroutable
	case errors.Is(err, services.ErrSettingsNotFound):
		status, resp.Code = http.StatusNotFound, ErrCodeSettingsNotFound
	case errors.Is(err, services.ErrOverrideNotFound):
		status, resp.Code = http.StatusNotFound, ErrCodeOverrideNotFound
	case errors.Is(err, services.ErrPharmacyNotFound):
		status, resp.Code = http.StatusNotFound, ErrCodePharmacyNotFound
	case errors.Is(err, services.ErrPrescriptionNotFound):
		status, resp.Code = http.StatusNotFound, ErrCodePrescriptionNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, resp.Code, resp.Retry = http.StatusServiceUnavailable, ErrCodeUnavailable, RetryAsIs
		resp.Message = "request timed out"
	default:
		_ = c.Error(err)
		resp.Code, resp.Retry, resp.Message = ErrCodeInternal, RetryAsIs, "internal server error"
	}
	write(c, status, resp)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

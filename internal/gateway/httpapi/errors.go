package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/grcpilot/internal/approval"
)

// ErrorBody is the error envelope of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure. Count and Limit are set for QuotaExceeded.
type ErrorDetail struct {
	Kind          string `json:"kind"`
	Message       string `json:"message"`
	Count         *int   `json:"count,omitempty"`
	Limit         *int   `json:"limit,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// statusFor maps an error kind onto its HTTP status.
func statusFor(kind approval.Kind) int {
	switch kind {
	case approval.KindUnauthenticated:
		return http.StatusUnauthorized
	case approval.KindForbidden:
		return http.StatusForbidden
	case approval.KindNotFound:
		return http.StatusNotFound
	case approval.KindConflict:
		return http.StatusConflict
	case approval.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case approval.KindPrerequisiteMissing:
		return http.StatusPreconditionFailed
	case approval.KindUnsupportedAction, approval.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse builds the status and body for err. Unclassified errors are
// reported as Internal with a generic message.
func errorResponse(err error, correlationID string) (int, ErrorBody) {
	var ae *approval.Error
	if !errors.As(err, &ae) {
		ae = &approval.Error{Kind: approval.KindInternal, Err: err}
	}
	detail := ErrorDetail{
		Kind:          string(ae.Kind),
		Message:       ae.Message,
		CorrelationID: correlationID,
	}
	switch ae.Kind {
	case approval.KindInternal:
		detail.Message = "internal error"
	case approval.KindQuotaExceeded:
		count, limit := ae.Count, ae.Limit
		detail.Count, detail.Limit = &count, &limit
	}
	return statusFor(ae.Kind), ErrorBody{Error: detail}
}

// writeError writes the error envelope. Internal errors are logged with their
// cause; the client only sees the generic message.
func writeError(c *okapi.Context, logger *slog.Logger, correlationID string, err error) error {
	status, body := errorResponse(err, correlationID)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(c.Context(), "request failed",
			slog.String("path", c.Request().URL.Path),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
	return c.JSON(status, body)
}

func invalidInput(msg string) error {
	return &approval.Error{Kind: approval.KindInvalidInput, Message: msg}
}

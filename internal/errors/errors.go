// Package errors provides the coded error taxonomy of the ledger engine.
// Business-rule rejections, transient conflicts and infrastructure failures
// are all *AppError values so callers can branch on Code and Retryable
// without parsing messages.
package errors

import (
	stderrors "errors"
	"net/http"
)

// AppError is a structured error with a stable code, a human-readable
// message, the HTTP status it maps to and an optional internal cause.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is matches any AppError carrying the same code, so wrapped or re-messaged
// copies still satisfy errors.Is against the sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// Wrap creates a copy of sentinel carrying an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	out := *sentinel
	out.Internal = internal
	return &out
}

// WithMessage creates a copy of sentinel with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	out := *sentinel
	out.Message = message
	return &out
}

// As extracts an *AppError from err. Non-AppErrors become ErrInternal.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrInternal, err)
}

// CodeOf returns the code of err, or "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return As(err).Code
}

// Order validation (caller bugs, never retried).
var (
	ErrInvalidOrder    = &AppError{Code: "INVALID_ORDER", Message: "Order is malformed", StatusCode: http.StatusBadRequest}
	ErrInvalidQuantity = &AppError{Code: "INVALID_QUANTITY", Message: "Quantity must be greater than zero", StatusCode: http.StatusBadRequest}
	ErrInvalidInput    = &AppError{Code: "INVALID_INPUT", Message: "Invalid input", StatusCode: http.StatusBadRequest}
)

// Business-rule rejections, surfaced verbatim and never retried automatically.
var (
	ErrMarketClosed       = &AppError{Code: "MARKET_CLOSED", Message: "Competition is not open for trading", StatusCode: http.StatusConflict}
	ErrNotAParticipant    = &AppError{Code: "NOT_A_PARTICIPANT", Message: "User is not a participant of this competition", StatusCode: http.StatusForbidden}
	ErrNoQuote            = &AppError{Code: "NO_QUOTE", Message: "No price is available for this symbol", StatusCode: http.StatusUnprocessableEntity}
	ErrInsufficientCash   = &AppError{Code: "INSUFFICIENT_CASH", Message: "Insufficient cash for this purchase", StatusCode: http.StatusUnprocessableEntity}
	ErrInsufficientShares = &AppError{Code: "INSUFFICIENT_SHARES", Message: "Insufficient shares for this sale", StatusCode: http.StatusUnprocessableEntity}
)

// Concurrency and infrastructure failures. The caller may resubmit.
var (
	ErrTooManyConflicts = &AppError{Code: "TOO_MANY_CONFLICTS", Message: "Too many concurrent updates, try again", StatusCode: http.StatusConflict, Retryable: true}
	ErrTimeout          = &AppError{Code: "TIMEOUT", Message: "Trade timed out before commit", StatusCode: http.StatusGatewayTimeout, Retryable: true}
	ErrCanceled         = &AppError{Code: "CANCELED", Message: "Trade was canceled before commit", StatusCode: 499}
	ErrStoreUnavailable = &AppError{Code: "STORE_UNAVAILABLE", Message: "Portfolio store is unavailable", StatusCode: http.StatusServiceUnavailable, Retryable: true}
)

// Competition lifecycle.
var (
	ErrCompetitionNotFound = &AppError{Code: "COMPETITION_NOT_FOUND", Message: "Competition not found", StatusCode: http.StatusNotFound}
	ErrPortfolioNotFound   = &AppError{Code: "PORTFOLIO_NOT_FOUND", Message: "Portfolio not found", StatusCode: http.StatusNotFound}
	ErrAlreadyJoined       = &AppError{Code: "ALREADY_JOINED", Message: "User already joined this competition", StatusCode: http.StatusConflict}
	ErrCompetitionEnded    = &AppError{Code: "COMPETITION_ENDED", Message: "Competition has ended", StatusCode: http.StatusConflict}
)

// Authentication, authorization and catch-all.
var (
	ErrUnauthorized = &AppError{Code: "UNAUTHORIZED", Message: "Authentication required", StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &AppError{Code: "FORBIDDEN", Message: "Access denied", StatusCode: http.StatusForbidden}
	ErrInternal     = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred", StatusCode: http.StatusInternalServerError}
)

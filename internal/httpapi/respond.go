// Package httpapi holds the JSON plumbing shared by the HTTP handlers:
// response writing, AppError rendering and request decoding with validation.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
)

// ErrorBody is the wire form of every error response.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as an ErrorBody. AppErrors keep their code and
// status; anything else becomes INTERNAL_ERROR without leaking details.
// Errors carrying an internal cause are logged.
func WriteError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	appErr := apperrors.As(err)
	if appErr.Internal != nil && log != nil {
		log.Error("request failed",
			zap.String("code", appErr.Code),
			zap.String("path", r.URL.Path),
			zap.Error(appErr.Internal),
		)
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, ErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Retryable: appErr.Retryable,
	})
}

// Unauthorized is an auth.Middleware failure renderer.
func Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, nil, apperrors.WithMessage(apperrors.ErrUnauthorized, err.Error()))
}

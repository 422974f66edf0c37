package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "github.com/papertrade/ledger-engine/internal/errors"
)

type orderBody struct {
	Symbol string `json:"symbol" validate:"required,symbol"`
	Side   string `json:"side" validate:"required,side"`
	Class  string `json:"asset_class" validate:"omitempty,asset_class"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"symbol":"aapl","side":"buy"}`, ""},
		{"valid class", `{"symbol":"BTC-USD","side":"SELL","asset_class":"crypto"}`, ""},
		{"empty body", ``, "request body is required"},
		{"bad json", `{"symbol":`, "invalid request body"},
		{"unknown field", `{"symbol":"AAPL","side":"buy","user_id":"x"}`, "invalid request body"},
		{"missing symbol", `{"side":"buy"}`, "symbol failed \"required\""},
		{"bad symbol", `{"symbol":"$$$","side":"buy"}`, "symbol failed \"symbol\""},
		{"bad side", `{"symbol":"AAPL","side":"short"}`, "side failed \"side\""},
		{"bad class", `{"symbol":"AAPL","side":"buy","asset_class":"bond"}`, "asset_class failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst orderBody
			err := Decode(req, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Fatalf("got %v, want INVALID_INPUT", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("message %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateAs(t *testing.T) {
	tests := []struct {
		name string
		body orderBody
		want *apperrors.AppError
	}{
		{"valid", orderBody{Symbol: "AAPL", Side: "buy"}, nil},
		{"bad side", orderBody{Symbol: "AAPL", Side: "short"}, apperrors.ErrInvalidOrder},
		{"missing symbol", orderBody{Side: "sell"}, apperrors.ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAs(&tt.body, apperrors.ErrInvalidOrder)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) || errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("got %v, want only %s", err, tt.want.Code)
			}
		})
	}
}

func TestDecodeBody_SkipsValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"AAPL","side":"short"}`))
	var dst orderBody
	if err := DecodeBody(req, &dst); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if dst.Side != "short" {
		t.Errorf("side = %q", dst.Side)
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"business", apperrors.ErrInsufficientCash, http.StatusUnprocessableEntity, "INSUFFICIENT_CASH", false},
		{"retryable", apperrors.ErrTooManyConflicts, http.StatusConflict, "TOO_MANY_CONFLICTS", true},
		{"plain error", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), nil, tt.err)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tt.code || body.Retryable != tt.retryable {
				t.Errorf("body = %+v", body)
			}
			if strings.Contains(rec.Body.String(), "disk on fire") {
				t.Error("internal cause leaked to client")
			}
		})
	}
}

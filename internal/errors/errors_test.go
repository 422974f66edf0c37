package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
)

func TestWrapKeepsCodeAndCause(t *testing.T) {
	err := Wrap(ErrStoreUnavailable, io.ErrUnexpectedEOF)

	if !stderrors.Is(err, ErrStoreUnavailable) {
		t.Error("wrapped error should match its sentinel")
	}
	if !stderrors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("wrapped error should expose its cause")
	}
	if !err.Retryable {
		t.Error("store failures are retryable")
	}
	if ErrStoreUnavailable.Internal != nil {
		t.Error("Wrap must not mutate the sentinel")
	}
}

func TestWithMessage(t *testing.T) {
	err := WithMessage(ErrInvalidOrder, "symbol TSLA is not tradable in this competition")
	if err.Message == ErrInvalidOrder.Message {
		t.Error("message not replaced")
	}
	if !stderrors.Is(err, ErrInvalidOrder) {
		t.Error("re-messaged error should still match by code")
	}
	if stderrors.Is(err, ErrInvalidQuantity) {
		t.Error("different codes must not match")
	}
}

func TestAsAndCodeOf(t *testing.T) {
	if As(nil) != nil || CodeOf(nil) != "" {
		t.Error("nil should stay nil")
	}

	wrapped := fmt.Errorf("executor: %w", ErrInsufficientCash)
	if got := CodeOf(wrapped); got != "INSUFFICIENT_CASH" {
		t.Errorf("CodeOf = %q, want INSUFFICIENT_CASH", got)
	}

	plain := As(io.EOF)
	if plain.Code != ErrInternal.Code || plain.StatusCode != 500 {
		t.Errorf("plain error mapped to %s/%d", plain.Code, plain.StatusCode)
	}
}

func TestRetryableTaxonomy(t *testing.T) {
	retryable := []*AppError{ErrTooManyConflicts, ErrTimeout, ErrStoreUnavailable}
	for _, e := range retryable {
		if !e.Retryable {
			t.Errorf("%s should be retryable", e.Code)
		}
	}
	final := []*AppError{ErrInvalidOrder, ErrMarketClosed, ErrNotAParticipant, ErrNoQuote, ErrInsufficientCash, ErrInsufficientShares}
	for _, e := range final {
		if e.Retryable {
			t.Errorf("%s must not be retryable", e.Code)
		}
	}
}

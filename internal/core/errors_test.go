package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatInternal, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name      string
		err       *DomainError
		category  ErrorCategory
		retryable bool
	}{
		{"validation", ErrValidation(CodeInvalidCount, "m"), ErrCatValidation, false},
		{"unavailable", ErrWorkerUnavailable("W"), ErrCatUnavailable, true},
		{"crashed", ErrWorkerCrashed("W", 42), ErrCatCrashed, true},
		{"busy", ErrWorkerBusy("W"), ErrCatBusy, false},
		{"module not found", ErrModuleNotFound("W"), ErrCatModuleNotFound, false},
		{"timeout", ErrTimeout("m"), ErrCatTimeout, true},
		{"channel closed", ErrChannelClosed("m"), ErrCatChannelClosed, false},
		{"not found", ErrNotFound("history", "x"), ErrCatNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %q, want %q", tt.err.Category, tt.category)
			}
			if tt.err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", tt.err.Retryable, tt.retryable)
			}
			if IsRetryable(tt.err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(tt.err), tt.retryable)
			}
		})
	}
}

func TestErrWorkerBusy_UsesServerBusyCode(t *testing.T) {
	if got := ErrWorkerBusy("DatabaseInteractionWorker").Code; got != "SERVER_BUSY" {
		t.Fatalf("Code = %q, want SERVER_BUSY", got)
	}
}

func TestGetCategory_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("creating worker: %w", ErrModuleNotFound("Nope"))
	if !IsCategory(wrapped, ErrCatModuleNotFound) {
		t.Fatalf("expected wrapped error to keep its category")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("plain errors should be internal")
	}
}

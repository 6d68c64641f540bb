package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lfcbot/lfc/internal/core"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantOK     bool
	}{
		{"validation", core.ErrValidation(core.CodeInvalidCount, "bad"), http.StatusUnprocessableEntity, true},
		{"not found", core.ErrNotFound("worker", "7"), http.StatusNotFound, true},
		{"module not found", core.ErrModuleNotFound("Ghost"), http.StatusNotFound, true},
		{"busy", core.ErrWorkerBusy("Echo"), http.StatusServiceUnavailable, true},
		{"unavailable", core.ErrWorkerUnavailable("Echo"), http.StatusServiceUnavailable, true},
		{"timeout", core.ErrTimeout("timed out"), http.StatusGatewayTimeout, true},
		{"crashed", core.ErrWorkerCrashed("Echo", 7), http.StatusBadGateway, true},
		{"channel closed", core.ErrChannelClosed("eof"), http.StatusBadGateway, true},
		{"internal (default)", &core.DomainError{Category: core.ErrCatInternal}, http.StatusInternalServerError, true},
		{"non-domain error", errors.New("plain"), 0, false},
		{"nil error", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ok := StatusForError(tt.err)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}

func TestRespondDomainError_PlainErrorIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondDomainError(rec, errors.New("boom"))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

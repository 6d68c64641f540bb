package api

import (
	"errors"
	"net/http"

	"github.com/lfcbot/lfc/internal/core"
)

// StatusForError maps a domain error to an HTTP status. The second result is
// false for errors outside the domain taxonomy.
func StatusForError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound, core.ErrCatModuleNotFound:
		return http.StatusNotFound, true
	case core.ErrCatBusy, core.ErrCatUnavailable:
		return http.StatusServiceUnavailable, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatCrashed, core.ErrCatChannelClosed:
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, true
	}
}

// RespondDomainError writes err with the status StatusForError picks, or 500.
func RespondDomainError(w http.ResponseWriter, err error) {
	status, ok := StatusForError(err)
	if !ok {
		status = http.StatusInternalServerError
	}
	RespondError(w, status, err.Error())
}

package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/counselhub/counselhub/internal/shared"
)

var statusTable = []struct {
	kind   error
	status int
}{
	{shared.ErrValidation, http.StatusBadRequest},
	{shared.ErrInvalidCredentials, http.StatusUnauthorized},
	{shared.ErrUnauthorized, http.StatusUnauthorized},
	{shared.ErrAccountLocked, http.StatusForbidden},
	{shared.ErrForbidden, http.StatusForbidden},
	{shared.ErrCSRFTokenMissing, http.StatusForbidden},
	{shared.ErrCSRFTokenMismatch, http.StatusForbidden},
	{shared.ErrNotFound, http.StatusNotFound},
	{shared.ErrDuplicate, http.StatusConflict},
	{shared.ErrConflict, http.StatusConflict},
	{shared.ErrInvalidState, http.StatusConflict},
	{shared.ErrTooManyRequests, http.StatusTooManyRequests},
	{shared.ErrUnavailable, http.StatusServiceUnavailable},
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	for _, entry := range statusTable {
		if errors.Is(err, entry.kind) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to a failure envelope with a Korean message.
// Server side failures are logged with the original error.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		Fail(w, http.StatusBadRequest, shared.UserSafeMessage(shared.ErrValidation), verr.Fields)
		return
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", slog.Any("error", err))
	}
	Fail(w, status, shared.UserSafeMessage(err), nil)
}

package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/store"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{services.ErrBookUnavailable, http.StatusConflict},
	{services.ErrReturnAlreadyRequested, http.StatusConflict},
	{services.ErrNoReturnRequested, http.StatusConflict},
	{services.ErrAlreadyReturned, http.StatusConflict},
	{services.ErrNotBorrower, http.StatusForbidden},
	{services.ErrInvalidCredentials, http.StatusUnauthorized},
	{services.ErrEmailInUse, http.StatusConflict},
	{services.ErrUsernameInUse, http.StatusConflict},
	{services.ErrRoleNotFound, http.StatusBadRequest},
	{services.ErrAdminRoleSelection, http.StatusForbidden},
	{services.ErrUserHasLoans, http.StatusConflict},
	{services.ErrISBNInUse, http.StatusConflict},
	{services.ErrBookOnLoan, http.StatusConflict},
	{services.ErrCoversDisabled, http.StatusServiceUnavailable},
	{services.ErrNoCover, http.StatusNotFound},
}

// writeServiceError maps a service error to its HTTP status. resource names
// the thing that was looked up, for the 404 message.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, resource string) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, resource+" not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "the request conflicted with a concurrent update, please retry")
	default:
		logger.Error("request failed", zap.String("resource", resource), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

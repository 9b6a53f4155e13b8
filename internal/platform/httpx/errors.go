package httpx

import (
	"errors"
	"net/http"

	"github.com/gatehouse-app/gatehouse/internal/identity"
	"github.com/gatehouse-app/gatehouse/internal/magic"
)

// RespondError maps domain errors to HTTP problem responses. Token material
// and internal detail never reach the client.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "identity does not resolve")
	case errors.Is(err, magic.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", "unknown token")
	case errors.Is(err, magic.ErrExpired):
		Problem(w, http.StatusGone, "Expired", "token past expiry")
	case errors.Is(err, magic.ErrAlreadyUsed):
		Problem(w, http.StatusConflict, "Already Used", "token already redeemed")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

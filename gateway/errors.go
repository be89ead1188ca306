package gateway

import (
	"errors"
	"net/http"

	"ownersale/native/sale"
	"ownersale/registry"
)

// statusForError maps domain errors to HTTP status codes. Unrecognized errors
// are treated as internal faults.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, registry.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, sale.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, sale.ErrInvalidStatus),
		errors.Is(err, sale.ErrNotYetInControl),
		errors.Is(err, sale.ErrAlreadyInitialized),
		errors.Is(err, sale.ErrNotInitialized),
		errors.Is(err, registry.ErrDuplicateSale),
		errors.Is(err, ErrIdempotencyMismatch):
		return http.StatusConflict
	case errors.Is(err, sale.ErrOfferMismatch),
		errors.Is(err, sale.ErrInsufficientAuthorization),
		errors.Is(err, sale.ErrInvalidTemplate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sale.ErrTransferInvocationFailed),
		errors.Is(err, sale.ErrTransferVerificationFailed),
		errors.Is(err, sale.ErrQueryFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

package errs

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

// ToHTTP maps the domain error taxonomy onto status codes.
func ToHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyRegistered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internals of persistence failures from callers.
func PublicMessage(err error) string {
	if ToHTTP(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}

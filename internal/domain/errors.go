package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failure")
	ErrTransport         = errors.New("transport failure")
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrConflict          = errors.New("conflict")
)

// Code — короткий код ошибки для клиентов (ws error event, http meta).
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "validation_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

package types

import "errors"

// Sentinel errors shared across services. Handlers translate these into
// HTTP status codes; repositories wrap the driver error with one of them.
var (
	ErrNotFound        = errors.New("requested item not found")
	ErrConflict        = errors.New("item already exists or conflict")
	ErrUnauthenticated = errors.New("authentication required or invalid credentials")
	ErrForbidden       = errors.New("action forbidden")
	ErrValidation      = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")

	// ErrWrongAdminPassword rejects a destructive operation whose actor
	// failed the password re-check.
	ErrWrongAdminPassword = errors.New("wrong admin password")
)

// Response is the generic envelope for simple success/error messages.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

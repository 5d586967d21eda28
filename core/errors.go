package core

import "github.com/juju/errors"

// Error categories shared by every service. Callers match them with errors.Is.
const (
	ErrInvalidState        = errors.ConstError("invalid state")
	ErrConnectivity        = errors.ConstError("connectivity failure")
	ErrConfiguration       = errors.ConstError("configuration error")
	ErrPersistenceConflict = errors.ConstError("persistence conflict")
)

// InvalidStatef returns an ErrInvalidState error carrying the formatted message.
func InvalidStatef(format string, args ...any) error {
	return errors.WithType(errors.Errorf(format, args...), ErrInvalidState)
}

// Configurationf returns an ErrConfiguration error carrying the formatted message.
func Configurationf(format string, args ...any) error {
	return errors.WithType(errors.Errorf(format, args...), ErrConfiguration)
}

// Permanent reports whether retrying the failed operation cannot help.
func Permanent(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, errors.NotFound)
}

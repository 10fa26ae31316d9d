package connections

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid connection reference")
	ErrNotFound        = errors.New("connection not found")
	ErrUnsupportedType = errors.New("unsupported connection type")
	ErrSecretMissing   = errors.New("connection secret not found")
)

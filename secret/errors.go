package secret

import "errors"

var (
	// ErrMissingEnv is returned when ${NAME} names an unset variable.
	ErrMissingEnv = errors.New("secret: missing environment variable")

	// ErrInvalidRef is returned for a malformed secret reference.
	ErrInvalidRef = errors.New("secret: invalid reference")

	// ErrUnknownProvider is returned when a reference names a provider that
	// was never registered.
	ErrUnknownProvider = errors.New("secret: unknown provider")

	// ErrProviderExists is returned when a provider name is registered twice.
	ErrProviderExists = errors.New("secret: provider already registered")

	// ErrEmptySecret is returned in strict mode when a provider resolves to
	// an empty value.
	ErrEmptySecret = errors.New("secret: empty value")

	// ErrNotFound is returned by providers when a reference has no value.
	ErrNotFound = errors.New("secret: not found")
)

package abuseshield

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoEndpointClasses is returned when no endpoint class table is configured
	ErrNoEndpointClasses = errors.New("at least one endpoint class is required")

	// ErrDuplicateClass is returned when two endpoint classes share a name
	ErrDuplicateClass = errors.New("duplicate endpoint class name")

	// ErrNonPositiveQuota is returned when a class quota or window is not positive
	ErrNonPositiveQuota = errors.New("quota and window must be positive")

	// ErrMissingStore is returned when a required store dependency is absent
	ErrMissingStore = errors.New("store dependency is required")
)

package health

import "errors"

var (
	// ErrCheckTimeout is reported when a check does not finish before the
	// aggregator deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned by Aggregator.Check for unknown names.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrCheckPanicked is reported when a checker panics.
	ErrCheckPanicked = errors.New("health: check panicked")
)

package apperrors

import "errors"

var (
	// ErrNotFound indicates the requested key is not present in the entity index.
	// Terminal for lookups; aborts a traversal at the seed step.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey indicates an empty or unnormalizable entity name.
	// Rejected before any store access.
	ErrInvalidKey = errors.New("invalid entity key")

	// ErrConfiguration indicates a provider/dimension mismatch, an unknown
	// collection, or a relation filter that can never match. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderTransient indicates an embedding provider failure (timeout,
	// rate limit). Retried with backoff by the worker, never surfaced to reads.
	ErrProviderTransient = errors.New("transient provider error")
)

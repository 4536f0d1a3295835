package models

import "errors"

var (
	// ErrValidation is returned for malformed inbound payloads
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned for unknown users or records
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEvent is returned when a webhook id was already recorded
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrUpstreamTimeout is returned when a model or integration call exceeds its deadline
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamUnavailable is returned when a model or integration call fails
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrPersistence is returned when a store write fails
	ErrPersistence = errors.New("persistence failure")
	// ErrUnclassifiedEvent is returned when an inbound webhook matches no known shape
	ErrUnclassifiedEvent = errors.New("unclassified event")
)

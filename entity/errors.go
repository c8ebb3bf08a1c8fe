package entity

import "errors"

var (
	// ErrNotFound is returned by a Store when a record, metadata value or
	// adjacent record does not exist.
	ErrNotFound = errors.New("starch: record not found")

	// ErrReservedField is returned when a custom field name collides with a
	// field the entity layer computes itself.
	ErrReservedField = errors.New("starch: reserved field name")

	// ErrUnknownModel is returned when a type definition names a model that
	// was never registered.
	ErrUnknownModel = errors.New("starch: unknown model")

	// ErrUnboundType is returned when a record's type has no binding.
	ErrUnboundType = errors.New("starch: no binding for type")

	// ErrDuplicateType is returned when a discriminator is bound twice to
	// different models.
	ErrDuplicateType = errors.New("starch: type already bound")

	// ErrFrozen is returned when the registry is mutated after startup.
	ErrFrozen = errors.New("starch: registry is frozen")
)

package ingestion

import "errors"

var (
	// ErrRegistryRequired is returned when a provider registry is not provided.
	ErrRegistryRequired = errors.New("provider registry required")

	// ErrBuilderRequired is returned when an embedding builder is not provided.
	ErrBuilderRequired = errors.New("embedding builder required")

	// ErrStoreRequired is returned when one of the output stores is missing.
	ErrStoreRequired = errors.New("output store required")

	// ErrInvalidConfig is returned when the pipeline configuration fails validation.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrAlreadyRun is returned when Run is called on a pipeline that has left Idle.
	ErrAlreadyRun = errors.New("pipeline already run")

	// errHalted marks conversations dropped after a stage-fatal failure.
	errHalted = errors.New("pipeline halted")
)

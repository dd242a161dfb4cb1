package reembed

import "errors"

var (
	// ErrBuilderRequired is returned when an embedding builder is not provided.
	ErrBuilderRequired = errors.New("embedding builder required")

	// ErrStoreRequired is returned when a conversation or embedding store is not provided.
	ErrStoreRequired = errors.New("conversation and embedding stores required")
)

package convoy

import "errors"

var (
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoAccounts is returned by Pull when no account matches.
	ErrNoAccounts = errors.New("no accounts configured")

	// ErrClosed is returned by operations on a closed Archive.
	ErrClosed = errors.New("archive is closed")
)

package services

import "errors"

var (
	// ErrNotFound is returned when the requested project does not exist
	ErrNotFound = errors.New("project not found")

	// ErrUpstreamUnavailable is returned when the knowledge store or ledger store cannot be read or written
	ErrUpstreamUnavailable = errors.New("upstream store unavailable")

	// ErrSummarizationUnavailable is logged when the completion capability fails; the fallback summary is used instead
	ErrSummarizationUnavailable = errors.New("summarization unavailable")

	// ErrInvalidConfiguration is returned for a negative budget or other unusable options
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

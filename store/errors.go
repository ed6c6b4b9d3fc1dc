package store

import "errors"

var (
	// ErrResultNotFound indicates the execution result does not exist.
	ErrResultNotFound = errors.New("result not found")

	// ErrDocumentNotFound indicates no document has been persisted yet.
	// Implementations translate this into an empty document for Load calls.
	ErrDocumentNotFound = errors.New("document not found")
)

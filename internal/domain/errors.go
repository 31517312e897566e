package domain

import (
	"errors"
	"fmt"
)

// Domain errors. Adapters wrap these with context; callers match with errors.Is.
var (
	// ErrInvalidInput indicates empty or malformed text.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch indicates a vector whose length differs from the index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrVersionMismatch indicates a vector produced by a different embedding model.
	ErrVersionMismatch = errors.New("model version mismatch")

	// ErrIndexUnavailable indicates the index is empty or not yet built.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrUpstreamUnavailable indicates an embedding or language model call failed,
	// timed out or was cancelled. Callers may retry or degrade.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCorruptStore indicates the persisted store is inconsistent. Fatal.
	ErrCorruptStore = errors.New("corrupt store")

	// ErrUnextractable indicates a document's bytes could not be turned into text.
	ErrUnextractable = errors.New("unextractable document")

	// ErrConflict indicates another writer changed the index first. The write
	// committed nothing and may be retried.
	ErrConflict = errors.New("concurrent write conflict")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// Upstream wraps err so that it matches ErrUpstreamUnavailable while keeping
// the original cause (including context errors) in the chain.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUpstreamUnavailable, err))
}

// Citation formats a title and year for attribution.
func Citation(title string, year int) string {
	if year <= 0 {
		return title
	}
	return fmt.Sprintf("%s (%d)", title, year)
}

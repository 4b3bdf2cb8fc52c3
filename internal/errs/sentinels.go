// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/server layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation (username or document name taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication or an unresolvable session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermissionDenied indicates the user has no access to the document,
	// or is not its owner where ownership is required.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSectionBusy indicates the section is currently held by another editor.
	ErrSectionBusy = errors.New("section busy")

	// ErrAddressesExhausted indicates the multicast address pool is fully assigned.
	ErrAddressesExhausted = errors.New("multicast addresses exhausted")

	// ErrNotEditing indicates EDIT_END without a preceding successful EDIT.
	ErrNotEditing = errors.New("not editing")

	// ErrEditingInProgress indicates EDIT while this connection already holds a section.
	ErrEditingInProgress = errors.New("editing in progress")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

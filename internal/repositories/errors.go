package repositories

import "errors"

// Sentinels returned by the user and session stores. The friend store maps
// constraint violations to friends package errors instead.
var (
	// ErrNotFound reports that no row matched the id, username or token.
	ErrNotFound = errors.New("repositories: no matching row")
	// ErrConflict reports a unique constraint violation, such as a taken username.
	ErrConflict = errors.New("repositories: unique constraint violated")
)

package types

import "errors"

// Failure classes surfaced by the source client, local store and fetcher.
// Callers test them with errors.Is.
var (
	// ErrConnectionFailure means the source or local store could not be reached.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrQueryFailure means a statement failed to execute or its rows failed to decode.
	ErrQueryFailure = errors.New("query failure")

	// ErrSchemaMismatch means records disagree with the declared column set.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNotFound is reserved for lookups where absence is an error, such as a
	// corporation that has no base row. Optional lookups return an empty record.
	ErrNotFound = errors.New("not found")
)

package refpool

import "errors"

// Engine errors. Failures the engine detects itself wrap one of these
// sentinels; check with errors.Is. Filesystem or codec errors on a
// synchronous path (reading a config file, creating the spill directory)
// are returned wrapping the underlying error only.
var (
	// ErrInvalidResourceForDevice is returned by per-resource queries when
	// the named resource does not belong to the queried device.
	ErrInvalidResourceForDevice = errors.New("resource does not belong to device")

	// ErrInvalidConfig is returned by constructors when an option violates
	// a stated precondition (non-positive limit, unknown policy, ...).
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRefTooLarge is returned when a ref's estimated size exceeds both
	// tier limits of a recency allocator. The write is rolled back.
	ErrRefTooLarge = errors.New("ref size exceeds both tier limits")

	// ErrMigrationInvariant indicates the recency allocator could not free
	// enough space even after considering every resident ref. This is
	// fatal for the operation: it means size accounting has drifted.
	ErrMigrationInvariant = errors.New("migration could not free enough space")

	// ErrMissingLeaf is returned by a read when the ref's leaves contain
	// no entry for the expected device and no other leaf can serve it.
	ErrMissingLeaf = errors.New("no leaf for device")

	// ErrUnknownRef is returned for operations on a ref id that is not
	// (or no longer) managed.
	ErrUnknownRef = errors.New("unknown ref")

	// ErrBackgroundIO wraps a failure recorded by a background write or
	// read goroutine. The affected ref may be unusable afterwards.
	ErrBackgroundIO = errors.New("background i/o failed")
)

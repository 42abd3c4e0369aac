package memory

import "errors"

// Error kinds surfaced at the tool boundary. Internal retries happen below
// this boundary; callers never see a raw transport or driver error.
var (
	// ErrValidation marks malformed input: missing tenant/scope, unknown
	// kind or relation, self-loops. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown entry, link, or attachment id.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks genuinely incompatible state. Duplicate writes and
	// duplicate links resolve idempotently and do not produce this.
	ErrConflict = errors.New("conflict")

	// ErrPermission is returned by the ACL gate. It is always surfaced,
	// never downgraded to an empty result.
	ErrPermission = errors.New("permission denied")

	// ErrDependency marks an unreachable collaborator: store, cache, blob
	// backend, or embedding provider.
	ErrDependency = errors.New("dependency unavailable")
)

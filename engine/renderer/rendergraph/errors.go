package rendergraph

import (
	"errors"
)

// Structural and runtime error kinds surfaced by Build and Execute.
// Callers match with errors.Is; the wrapping message carries the
// offending pass or resource name.
var (
	// A pass reads a name with no producer and no attachment binding.
	ErrResourceNotProduced = errors.New("resource is not produced by any pass or attachment binding")
	// The same name is used with incompatible resource types.
	ErrResourceTypeMismatch = errors.New("resource used with incompatible types")
	// The topological sort cannot order two passes and their auxiliary
	// orders are equal.
	ErrUnresolvedCycle = errors.New("unresolvable cycle between passes")
	// A framebuffer attachment resource has no binding at build time.
	ErrMissingAttachment = errors.New("attachment has no binding")
	// The allocator or a cache signalled failure.
	ErrAllocationFailed = errors.New("allocation failed")
	// A declaration breaks the graph contract.
	ErrContractViolation = errors.New("contract violation")
)

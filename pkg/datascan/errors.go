package datascan

import "errors"

// Base errors of the scan pipeline. Failures wrap one of these sentinels;
// callers classify with errors.Is. Evaluation failures wrap
// [expr.ErrEvaluate] instead.
var (
	// ErrIO indicates a fragment-level read failure.
	ErrIO = errors.New("i/o error")

	// ErrProjection indicates a required column that is missing and has no
	// default value, or a cast that is not representable.
	ErrProjection = errors.New("projection error")

	// ErrConfiguration indicates a partition column colliding with a
	// differently-typed target column.
	ErrConfiguration = errors.New("configuration error")

	// ErrSchemaMismatch indicates a fragment schema incompatible with the
	// scan's target schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrOutOfMemory indicates an allocation failure. Allocators and
	// fragments surface exhaustion with this sentinel.
	ErrOutOfMemory = errors.New("out of memory")
)

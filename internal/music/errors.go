package music

import (
	"errors"
	"fmt"

	"github.com/harmonia-music/harmonia/internal/media"
)

// NotFoundError indicates a requested canonical item does not exist.
type NotFoundError struct {
	Kind media.Type
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvariantError indicates a mutation was rejected before being applied
// because it would violate a library invariant (an item with zero provider
// mappings, a non-recursive delete of an item with dependents).
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant violation: " + e.Reason
}

// IsInvariant reports whether err is (or wraps) an InvariantError.
func IsInvariant(err error) bool {
	var iv *InvariantError
	return errors.As(err, &iv)
}

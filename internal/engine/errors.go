package engine

import (
	"errors"
	"fmt"

	"github.com/riskgate/riskgate/internal/model"
)

var (
	// ErrNotFound is returned when an action id has no record.
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps request-validation failures (bad near-miss type,
	// out-of-range severity, missing required fields).
	ErrInvalid = errors.New("invalid argument")
)

// ConflictError is returned on an attempt to resolve an action that has
// already left the pending state. The prior resolution stands.
type ConflictError struct {
	ActionID int64
	Status   model.ApprovalStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("action %d already resolved as %s", e.ActionID, e.Status)
}

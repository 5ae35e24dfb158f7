package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
)

// ValidationError reports a malformed deal or waterfall definition. It is
// raised before any cash moves; a run that fails validation must not have
// partially executed.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvariantViolation is a fatal programming-error condition detected
// mid-cascade: running cash or an entity balance went negative, or the
// ledger failed to conserve cash. It aborts the run; no partial ledger is
// returned.
type InvariantViolation struct {
	Cascade  Cascade
	Step     int    // zero-based index into the definition, -1 if not step-scoped
	EntityID string // entity involved, empty if not entity-scoped
	Amount   decimal.Decimal
	Detail   string
}

func (e *InvariantViolation) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("invariant violation: %s cascade step %d entity %s: %s (amount %s)",
			e.Cascade, e.Step, e.EntityID, e.Detail, e.Amount)
	}
	return fmt.Sprintf("invariant violation: %s cascade step %d: %s (amount %s)",
		e.Cascade, e.Step, e.Detail, e.Amount)
}

// IsInvariantViolation reports whether err is (or wraps) an
// InvariantViolation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolation
	return errors.As(err, &iv)
}

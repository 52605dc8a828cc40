package recurrence

import (
	"errors"
	"fmt"
)

// ErrInvalidSchedule is matched by every *InvalidScheduleError.
var ErrInvalidSchedule = errors.New("invalid schedule")

// InvalidScheduleError reports a malformed recurrence rule.
type InvalidScheduleError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("%v: %s=%v: %s", ErrInvalidSchedule, e.Field, e.Value, e.Reason)
}

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

func invalid(field string, value any, reason string) error {
	return &InvalidScheduleError{Field: field, Value: value, Reason: reason}
}

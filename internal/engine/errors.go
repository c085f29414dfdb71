package engine

import (
	"errors"
	"fmt"
	"time"
)

// StageTimeoutError reports a pipeline stage that exceeded its budget.
// The stage is abandoned until the next scheduled firing.
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s exceeded its %s timeout", e.Stage, e.Timeout)
}

// IsStageTimeout reports whether err is a stage timeout.
func IsStageTimeout(err error) bool {
	var te *StageTimeoutError
	return errors.As(err, &te)
}

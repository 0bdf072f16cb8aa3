package skinroutine

import (
	"errors"
	"fmt"
)

// ErrMalformedOutput marks an external response that does not conform to its
// expected structured shape.
var ErrMalformedOutput = errors.New("malformed external output")

type Stage string

const (
	StageStrategist Stage = "strategist"
	StageCatalog    Stage = "catalog"
	StageRetrieval  Stage = "retrieval"
	StageGenerator  Stage = "generator"
	StageReviewer   Stage = "reviewer"
	StagePersist    Stage = "persist"
)

// StageError is a session-level failure annotated with the failing stage and,
// for loop stages, the 0-based attempt number.
type StageError struct {
	Stage   Stage
	Attempt int
	Err     error
}

func (e *StageError) Error() string {
	switch e.Stage {
	case StageGenerator, StageReviewer:
		return fmt.Sprintf("%s failed on attempt %d: %v", e.Stage, e.Attempt, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// CategoryFailure is an absorbed retrieval failure for one category.
type CategoryFailure struct {
	Category string
	Err      error
}

func (f CategoryFailure) Error() string {
	return fmt.Sprintf("category %q: %v", f.Category, f.Err)
}

func (f CategoryFailure) Unwrap() error { return f.Err }

// Malformedf returns an error wrapping ErrMalformedOutput.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...))
}

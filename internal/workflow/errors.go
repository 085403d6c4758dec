package workflow

import "fmt"

type Stage string

const (
	StageForward Stage = "forward"
	StageReverse Stage = "reverse"
)

// ConversionError is returned when a whole conversion fails. No partial
// result accompanies it.
type ConversionError struct {
	Stage Stage
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert workflow (%s): %v", e.Stage, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func conversionError(stage Stage, err error) error {
	return &ConversionError{Stage: stage, Err: err}
}

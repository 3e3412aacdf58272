package dedupe

import (
	"errors"
	"fmt"
)

// CollaboratorError wraps a terminal failure of an embedding or adjudication call.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// DataError reports input the pipeline cannot work with, such as an empty
// collection or a missing required field.
type DataError struct {
	Msg string
}

func (e *DataError) Error() string {
	return "invalid input: " + e.Msg
}

// ParseError reports an adjudicator response that does not have the expected shape.
type ParseError struct {
	Input    string
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %q as %s", e.Input, e.Expected)
}

// IsDataError reports whether err is, or wraps, a *DataError.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

package pipeline

import "fmt"

// MissingOutputError means a step finished without producing its file.
type MissingOutputError struct {
	Step string
	Path string
	Err  error
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s did not produce %s", e.Step, e.Path)
}

func (e *MissingOutputError) Unwrap() error {
	return e.Err
}

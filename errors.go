package dcmeasure

import (
	"errors"
	"fmt"
)

var (
	ErrUnresolvableRange = errors.New("current measurement has no limit and no current range was supplied")
	ErrUnclassifiedPin   = errors.New("pin type has no measurement sequence")
	ErrNotSetUp          = errors.New("test method has not been set up")
)

// AbortError stops the whole test flow, not just the test that raised it.
type AbortError struct {
	Test string
	Err  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("flow aborted by %s: %v", e.Test, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// IsAbort checks if the error is or wraps an AbortError
func IsAbort(err error) bool {
	var abortErr *AbortError
	return err != nil && errors.As(err, &abortErr)
}

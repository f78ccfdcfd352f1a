package device

import (
	"fmt"
)

// TransportError reports a request that did not produce a usable HTTP response:
// the device was unreachable, timed out or answered with a non-2xx status.
type TransportError struct {
	URL        string
	StatusCode int // StatusCode is 0 when no response was received.
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("device: GET %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("device: GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body that could not be parsed, either as JSON
// or as a compressed binary payload.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("device: decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a parameter or a response field outside its range.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("device: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func checkRange(field string, v, min, max int) error {
	if v < min || v > max {
		return &ValidationError{Field: field, Value: v, Reason: fmt.Sprintf("out of range [%d, %d]", min, max)}
	}
	return nil
}

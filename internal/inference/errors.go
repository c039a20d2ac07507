package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrSampleRate means a request reached the adapter at the wrong rate.
	ErrSampleRate = errors.New("sample rate mismatch")
	// ErrEmptyResult means the engine answered without any text.
	ErrEmptyResult = errors.New("engine returned no text")
	// ErrNoEngine means no backend was configured.
	ErrNoEngine = errors.New("no inference engine configured")
)

// Error is any failure of the engine call. Timeout is set when the call
// exceeded its deadline.
type Error struct {
	Message string
	Err     error
	Timeout bool
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "inference: " + e.Message
	}
	return fmt.Sprintf("inference: %s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

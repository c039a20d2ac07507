package audio

import (
	"errors"
	"fmt"
)

// Stage names a step of the normalization pipeline.
type Stage string

const (
	StageDecode   Stage = "decode"
	StageDownmix  Stage = "downmix"
	StageScale    Stage = "scale"
	StageResample Stage = "resample"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNoAudio           = errors.New("no audio samples")
	ErrTooLong           = errors.New("audio clip too long")
)

// Error is a failure of one pipeline stage.
type Error struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error, format string, args ...interface{}) *Error {
	return &Error{Stage: stage, Message: fmt.Sprintf(format, args...), Err: err}
}

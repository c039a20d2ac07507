package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Adapter invokes an Engine with a per-call deadline and turns every
// failure, including panics, into an *Error. It never touches conversation
// state.
type Adapter struct {
	Engine     Engine
	TargetRate int
	Timeout    time.Duration
}

type outcome struct {
	res Result
	err error
}

// Invoke runs one engine call. The engine runs on its own goroutine so a
// backend that ignores ctx still cannot hold the caller past the deadline.
func (a *Adapter) Invoke(ctx context.Context, req Request) (Result, error) {
	if a.Engine == nil {
		return Result{}, &Error{Message: "invoke", Err: ErrNoEngine}
	}
	if req.SampleRate != a.TargetRate {
		return Result{}, &Error{
			Message: fmt.Sprintf("request at %d Hz, engine expects %d Hz", req.SampleRate, a.TargetRate),
			Err:     ErrSampleRate,
		}
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("engine panic: %v", r)}
			}
		}()
		res, err := a.Engine.Infer(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{}, &Error{
				Message: "engine call failed",
				Err:     o.err,
				Timeout: errors.Is(o.err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
			}
		}
		if strings.TrimSpace(o.res.Text) == "" {
			return Result{}, &Error{Message: "engine call failed", Err: ErrEmptyResult}
		}
		return o.res, nil
	case <-ctx.Done():
		return Result{}, &Error{
			Message: "engine call abandoned",
			Err:     ctx.Err(),
			Timeout: errors.Is(ctx.Err(), context.DeadlineExceeded),
		}
	}
}

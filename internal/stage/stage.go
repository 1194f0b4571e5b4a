package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"bookdrop/internal/services"
)

// Names of the per-item pipeline stages.
const (
	Cache   = "cache"
	Resolve = "resolve"
	Fetch   = "fetch"
	Deliver = "deliver"
)

// Func is the unit of work executed by Run.
type Func func(ctx context.Context) error

// PanicError reports a panic recovered while a stage was running.
type PanicError struct {
	Stage string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s stage panicked: %v", e.Stage, e.Value)
}

// ReasonCode implements the summary reason contract.
func (e *PanicError) ReasonCode() string { return "panic" }

// TimeoutError reports that a stage exceeded its deadline. It is transient.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage exceeded %s: %v", e.Stage, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() []error {
	return []error{services.ErrTransient, services.ErrTimeout, e.Err}
}

// ReasonCode implements the summary reason contract.
func (e *TimeoutError) ReasonCode() string { return "timeout" }

// Run executes fn under a stage-scoped context. A non-positive timeout leaves
// the parent deadline in force. Cancellation of the parent is returned as-is.
func Run(ctx context.Context, name string, timeout time.Duration, fn Func) (err error) {
	ctx = services.WithStage(ctx, name)
	stageCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: name, Value: r, Stack: debug.Stack()}
		}
	}()

	err = fn(stageCtx)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		err = &TimeoutError{Stage: name, Timeout: timeout, Err: err}
	}
	return err
}

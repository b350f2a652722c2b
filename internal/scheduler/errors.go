package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-detectable conditions (spec §7).
var (
	// ErrUnknownTask is returned when a caller submits to a task name that was
	// never registered. Surfaced immediately, before anything is enqueued.
	ErrUnknownTask = errors.New("scheduler: unknown task")

	// ErrDuplicateTask is returned by Registry.Register when a TaskKey already
	// has a handler bound to it.
	ErrDuplicateTask = errors.New("scheduler: duplicate task registration")

	// ErrSchedulerStopped is returned by submission paths once Stop has been
	// called.
	ErrSchedulerStopped = errors.New("scheduler: stopped")
)

// ErrorKind classifies a handler-observable failure, per spec §7.
type ErrorKind string

const (
	KindModelError   ErrorKind = "ModelError"
	KindUnknownError ErrorKind = "UnknownError"
	KindWorkerCrash  ErrorKind = "WorkerCrash"
)

// TaskError is the error type attached to every completion handle in a failed
// batch. All items in a batch receive an equal TaskError (same Kind, Message,
// HTTPStatus) — the scheduler never tries to isolate a poison item within a
// failed batch (spec §4.4, §9).
type TaskError struct {
	Kind       ErrorKind
	Message    string
	HTTPStatus int
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewModelError builds a domain error a handler can return to signal a
// client-facing failure. Mirrors the Python original's ModelError defaults
// (message "Error in model inference", status 400) when called with a zero
// value.
func NewModelError(message string, httpStatus int) *TaskError {
	if message == "" {
		message = "Error in model inference"
	}
	if httpStatus == 0 {
		httpStatus = 400
	}
	return &TaskError{Kind: KindModelError, Message: message, HTTPStatus: httpStatus}
}

// newUnknownError wraps an uncaught handler panic/error as spec §7 requires:
// "type: message" diagnostic, default HTTP 400.
func newUnknownError(err error) *TaskError {
	return &TaskError{Kind: KindUnknownError, Message: err.Error(), HTTPStatus: 400}
}

// newWorkerCrashError is attached to every item of a batch whose worker
// process died without returning a result.
func newWorkerCrashError(detail string) *TaskError {
	return &TaskError{Kind: KindWorkerCrash, Message: detail, HTTPStatus: 503}
}

// asTaskError normalizes any error returned by a handler/worker into a
// *TaskError, preserving ModelError identity and wrapping everything else as
// UnknownError — the scheduler invariant violation path (spec §7) also lands
// here.
func asTaskError(err error) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	return newUnknownError(err)
}

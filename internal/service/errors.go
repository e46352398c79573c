package service

import (
	"errors"
	"fmt"
)

var ErrNoRunnerMatch = errors.New("no eligible runner")

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

type StepFailureError struct {
	Step     int
	Command  string
	ExitCode int
	Err      error
}

func (e *StepFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("step %d '%s' failed: %v", e.Step+1, e.Command, e.Err)
	}
	return fmt.Sprintf("step %d '%s' exited with code %d", e.Step+1, e.Command, e.ExitCode)
}

func (e *StepFailureError) Unwrap() error {
	return e.Err
}

type JobTimeoutError struct {
	Timeout string
}

func (e JobTimeoutError) Error() string {
	return fmt.Sprintf("job execution timed out after %s", e.Timeout)
}

// ValidationError reports input rejected before it reached the store.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

var ErrRunNotActive = errors.New("run is not queued or running")

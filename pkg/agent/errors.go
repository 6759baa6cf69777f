package agent

import "errors"

var (
	// ErrEmptyTask is returned when the task is blank.
	ErrEmptyTask = errors.New("task must not be empty")
	// ErrInterrupted is returned when the caller cancels a run mid-dispatch.
	ErrInterrupted = errors.New("run interrupted")
)

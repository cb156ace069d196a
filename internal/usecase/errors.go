package usecase

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidRequest = errors.New("invalid request")

// stageError tags a pipeline failure with the stage it happened in and
// whether running the job again could help.
type stageError struct {
	stage     string
	err       error
	permanent bool
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

func retryable(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

func permanent(stage string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retryable(stage, err)
	}
	return &stageError{stage: stage, err: err, permanent: true}
}

func isPermanent(err error) bool {
	var se *stageError
	return errors.As(err, &se) && se.permanent
}

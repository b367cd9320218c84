package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobFailed         = errors.New("job failed")
	ErrPathNormalization = errors.New("path normalization error")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

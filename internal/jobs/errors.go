package jobs

import "errors"

// PermanentError marks a handler failure that retrying cannot fix. The job is
// dead-lettered on the first occurrence.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent job failure"
	}
	return e.Err.Error()
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the orchestrator skips the remaining attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var target PermanentError
	return errors.As(err, &target)
}

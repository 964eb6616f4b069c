package worker

import "errors"

// PermanentError marks a job failure which retrying can't fix.
type PermanentError struct {
	Err error
}

func (self *PermanentError) Error() string { return self.Err.Error() }

func (self *PermanentError) Unwrap() error { return self.Err }

// Permanent wraps err, so the job failing with it goes straight to the
// failed state. It returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether any error in err's chain is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

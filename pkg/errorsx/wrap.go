package errorsx

import "errors"

// ReasonedError wraps an error with a reason code.
type ReasonedError struct {
	Err  error
	Code ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

func (e ReasonedError) Reason() ReasonCode { return e.Code }

// Wrap attaches a reason code to an error. It is a no-op when err is nil
// or already carries a reason.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Code: reason}
}

// Reason extracts the reason code of err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var r interface{ Reason() ReasonCode }
	if errors.As(err, &r) {
		return r.Reason()
	}
	return ReasonUnknown
}

// HasReason returns true if err carries the given reason code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}

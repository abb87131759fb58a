// Package errs holds the error kinds shared by the segment, campaign and
// delivery packages. Callers classify with errors.Is against the sentinels.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrUserInput  = errors.New("invalid input")
	ErrInternal   = errors.New("internal error")
)

// ValidationError reports a malformed rule. Index is 1-based; 0 means the
// failure is not tied to a particular rule.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("rule %d: %s", e.Index, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(index int, format string, args ...any) error {
	return &ValidationError{Index: index, Reason: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	switch {
	case e.msg != "" && e.err != nil:
		return e.msg + ": " + e.err.Error()
	case e.msg != "":
		return e.msg
	case e.err != nil:
		return e.err.Error()
	}
	return e.kind.Error()
}

func (e *kindError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// Internal marks err as a collaborator failure. The cause stays reachable
// through errors.As.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInternal) {
		return err
	}
	return &kindError{kind: ErrInternal, err: err}
}

func Internalf(format string, args ...any) error {
	return &kindError{kind: ErrInternal, msg: fmt.Sprintf(format, args...)}
}

func NotFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

func Capacity(msg string) error { return &kindError{kind: ErrCapacity, msg: msg} }

func UserInput(msg string) error { return &kindError{kind: ErrUserInput, msg: msg} }

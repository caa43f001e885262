package core

import "fmt"

// Code classifies the outcome of a public API call, mirroring the
// OK/AGAIN/INVAL/OTHER error kinds surfaced to callers of the dependency
// engine and scheduler. AGAIN is transient and retryable; INVAL signals
// caller misuse; OTHER wraps a transport or OS failure. Internal invariant
// violations are not represented here at all -- they abort via panic
// through invariantf, since they are not caller-recoverable.
type Code int

const (
	CodeOK Code = iota
	CodeAgain
	CodeInval
	CodeOther
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeAgain:
		return "AGAIN"
	case CodeInval:
		return "INVAL"
	case CodeOther:
		return "OTHER"
	default:
		return "UNKNOWN"
	}
}

// Error is the error type returned across the public API. It always
// carries a Code so callers can branch on retryability without string
// matching.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func errAgain(op string, err error) error { return &Error{Code: CodeAgain, Op: op, Err: err} }
func errInval(op string, err error) error { return &Error{Code: CodeInval, Op: op, Err: err} }
func errOther(op string, err error) error { return &Error{Code: CodeOther, Op: op, Err: err} }

// CodeOf extracts the Code from err, defaulting to CodeOther for any
// error that didn't originate from this package.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return CodeOther
	}
	return e.Code
}

// invariantf aborts the process with a diagnostic. It is used at the small
// number of points where the spec declares a condition an internal
// invariant rather than a caller error -- these are asserted and, when
// violated, are not recoverable.
func invariantf(format string, args ...any) {
	panic(fmt.Sprintf("dartrt: invariant violated: "+format, args...))
}

package model

import "errors"

var (
	// ErrNotValid is returned when a request is malformed.
	ErrNotValid = errors.New("not valid")
	// ErrAlreadyExists is returned when a destination already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAuthFailure is returned when the presented token doesn't match.
	ErrAuthFailure = errors.New("authentication failure")
	// ErrPathEscape is returned when a resolved path leaves its root.
	ErrPathEscape = errors.New("path escapes its root")
	// ErrPathNotFound is returned when an input path doesn't exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrPathUnreadable is returned when an input path can't be read.
	ErrPathUnreadable = errors.New("path not readable")
	// ErrUnsupportedOption is returned for archiver flags outside the whitelist.
	ErrUnsupportedOption = errors.New("unsupported option")
	// ErrProcessTimeout is returned when the archiver exceeded its time budget.
	ErrProcessTimeout = errors.New("process timed out")
	// ErrProcessFailure is returned when the archiver exited nonzero or
	// could not be spawned at all.
	ErrProcessFailure = errors.New("process failed")
	// ErrBackpressure is returned when the concurrency limit is exceeded.
	ErrBackpressure = errors.New("too many concurrent jobs")
)

// ErrorKind maps an error to the machine-readable failure kind exposed
// on the API. Unknown errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrPathEscape):
		return "path_escape"
	case errors.Is(err, ErrPathNotFound):
		return "path_not_found"
	case errors.Is(err, ErrPathUnreadable):
		return "path_unreadable"
	case errors.Is(err, ErrUnsupportedOption):
		return "unsupported_option"
	case errors.Is(err, ErrProcessTimeout):
		return "process_timeout"
	case errors.Is(err, ErrBackpressure):
		return "backpressure"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNotValid):
		return "invalid_request"
	case errors.Is(err, ErrProcessFailure):
		return "process_failure"
	}
	return "internal"
}

package archive

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned when no suffix or header probe
// recognises the archive.
var ErrUnsupportedFormat = errors.New("unsupported archive format")

// ErrPasswordRequired is returned when an archive is encrypted and no
// password was supplied.
var ErrPasswordRequired = errors.New("archive is encrypted, password required")

// ErrMemberNotFound is returned by ExtractOne when the requested member is
// not in the archive index.  Nothing is written in that case.
var ErrMemberNotFound = errors.New("member not found in archive")

// errUnsafePath marks a member whose name would escape the destination.
var errUnsafePath = errors.New("member path escapes destination")

// Reason tells callers why an extraction failed so they can phrase the
// user-facing message.
type Reason string

const (
	ReasonWrongPassword Reason = "wrong_password"
	ReasonCorrupt       Reason = "corrupt"
	ReasonIO            Reason = "io"
	ReasonCancelled     Reason = "cancelled"
)

// ExtractionError wraps a codec or filesystem failure.
type ExtractionError struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed (%s): %v", e.Kind, e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// IsWrongPassword reports whether err is an ExtractionError caused by a bad
// password.
func IsWrongPassword(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee) && ee.Reason == ReasonWrongPassword
}

package service

import "errors"

// ErrInvalidTTL is returned by Registry.Register for a TTL that is not
// positive.
var ErrInvalidTTL = errors.New("ttl must be positive")

// ErrInvalidPath is returned by Registry.Register for an empty path.
var ErrInvalidPath = errors.New("path must not be empty")

// ErrInvalidSettings is returned when a settings patch carries an
// out-of-range value.
var ErrInvalidSettings = errors.New("invalid settings")

// ErrInvalidSize is returned for a negative archive size.
var ErrInvalidSize = errors.New("size must not be negative")

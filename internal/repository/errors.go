// Package repository holds the persistence backends for user profiles and
// temp-file records together with the sentinel errors they share.  Higher
// layers match these with errors.Is to tell a missing record apart from a
// backend that cannot be reached.
package repository

import "errors"

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrBackendUnavailable is returned when the durable backend could not
// serve a request (connection refused, timeout, malformed reply).  The
// service layer logs and swallows it.
var ErrBackendUnavailable = errors.New("durable backend unavailable")

// ErrForbidden is returned when the caller attempts an operation on a
// profile they do not own.  Handlers translate this into an HTTP 403.
var ErrForbidden = errors.New("forbidden")

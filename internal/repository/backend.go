package repository

import (
	"context"
	"time"

	"github.com/iliyamo/unpacker/internal/model"
)

// UserBackend stores user profiles keyed by id.
type UserBackend interface {
	// GetUser returns ErrNotFound when no profile exists.
	GetUser(ctx context.Context, id int64) (model.UserProfile, error)
	// UpsertUser writes the whole profile.
	UpsertUser(ctx context.Context, p model.UserProfile) error
	// IncrementUsage applies d atomically against the stored profile,
	// resetting stale counters first.  ErrNotFound when the profile is
	// missing.
	IncrementUsage(ctx context.Context, id int64, d model.UsageDelta) error
	// PatchUser applies a field-level update to the stored profile.
	// ErrNotFound when the profile is missing.
	PatchUser(ctx context.Context, id int64, patch model.UserPatch) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	CountUsers(ctx context.Context) (model.UserCounts, error)
}

// TempFileBackend stores temp-file records keyed by path.
type TempFileBackend interface {
	PutTempFile(ctx context.Context, rec model.TempFileRecord) error
	// ReapExpiredTempFiles removes every record whose expiry is at or
	// before now and returns their paths.  Records re-registered with a
	// later expiry in the meantime are left alone.
	ReapExpiredTempFiles(ctx context.Context, now time.Time) ([]string, error)
	DeleteTempFile(ctx context.Context, path string) error
}

// Durable is a backend that persists both keyspaces.
type Durable interface {
	UserBackend
	TempFileBackend
	// Name identifies the backend in logs and metrics.
	Name() string
	Close() error
}

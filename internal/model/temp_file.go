package model

import "time"

// TempFileRecord tracks one filesystem path produced by a download or an
// extraction.  The path is the unique key; re-registering a path replaces
// its record.  OwnerID refers to a UserProfile but never owns it.
//
// Fields:
//
//	Path       – absolute or TEMP_DIR-relative path of the artifact.
//	OwnerID    – user who produced the artifact.
//	CreatedAt  – registration instant (UTC).
//	TTLMinutes – lifetime in minutes, always > 0.
type TempFileRecord struct {
	Path       string    `json:"path"`
	OwnerID    int64     `json:"user_id"`
	CreatedAt  time.Time `json:"created_at"`
	TTLMinutes int       `json:"ttl_min"`
}

// ExpiresAt returns CreatedAt + TTL.
func (r TempFileRecord) ExpiresAt() time.Time {
	return r.CreatedAt.Add(time.Duration(r.TTLMinutes) * time.Minute)
}

// Expired reports whether the record has expired as of now.  The boundary
// instant counts as expired.
func (r TempFileRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt().After(now)
}

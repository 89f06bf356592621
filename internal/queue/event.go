// Package queue defines the events published to the message broker, the
// best-effort publisher and the audit consumer that appends them to a log.
package queue

// Queue names.  Both are declared durable.
const (
	TaskCompletedQueue   = "unpacker.task.completed"
	ArtifactsReapedQueue = "unpacker.artifacts.reaped"
)

// TaskCompletedEvent is published after an extraction task finished and its
// output was registered for cleanup.
type TaskCompletedEvent struct {
	TaskID      string  `json:"task_id"`
	UserID      int64   `json:"user_id"`
	ArchiveKind string  `json:"archive_kind"`
	SizeMB      float64 `json:"size_mb"`
	Files       int     `json:"files"`
	Member      string  `json:"member,omitempty"`
	OutputPath  string  `json:"output_path"`
	ExpiresAt   string  `json:"expires_at"`
	CompletedAt string  `json:"completed_at"`
}

// ArtifactsReapedEvent is published by the cleanup sweeper after a pass
// that removed at least one path.
type ArtifactsReapedEvent struct {
	Paths    []string `json:"paths"`
	Failed   int      `json:"failed"`
	ReapedAt string   `json:"reaped_at"`
}

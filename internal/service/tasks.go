package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/fetch"
	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/queue"
)

// ErrInvalidTask is returned for a request that names neither or both of
// a local archive and a URL, or a local archive outside the temp dir.
var ErrInvalidTask = errors.New("invalid task")

// TaskNotifier is told about every completed task.
type TaskNotifier interface {
	PublishTaskCompleted(ctx context.Context, ev queue.TaskCompletedEvent) error
}

// TaskRequest asks for one archive to be extracted.  Exactly one of
// ArchivePath and URL is set.  A non-empty Member extracts only that entry.
type TaskRequest struct {
	UserID      int64  `json:"user_id"`
	ArchivePath string `json:"archive_path,omitempty"`
	URL         string `json:"url,omitempty"`
	Password    string `json:"password,omitempty"`
	Member      string `json:"member,omitempty"`
}

// TaskResult is what a finished task produced.
type TaskResult struct {
	TaskID     string                 `json:"task_id"`
	Kind       archive.Kind           `json:"kind"`
	SizeMB     float64                `json:"size_mb"`
	OutputDir  string                 `json:"output_dir"`
	Manifest   *model.ArchiveManifest `json:"manifest,omitempty"`
	MemberPath string                 `json:"member_path,omitempty"`
	ExpiresAt  time.Time              `json:"expires_at"`
}

// TaskRunner drives one task end to end: admission, optional download,
// extraction, registration for cleanup and usage accounting.  The number
// of concurrent tasks is bounded by a weighted semaphore.
type TaskRunner struct {
	engine     *archive.Engine
	users      *UserStore
	quota      *QuotaService
	registry   *Registry
	downloader *fetch.Downloader
	notify     TaskNotifier
	sem        *semaphore.Weighted
	tempDir    string
	timeout    time.Duration
	log        *logging.Logger
}

// TaskRunnerDeps collects the collaborators of a TaskRunner.
type TaskRunnerDeps struct {
	Engine     *archive.Engine
	Users      *UserStore
	Quota      *QuotaService
	Registry   *Registry
	Downloader *fetch.Downloader
	Notify     TaskNotifier
	TempDir    string
	MaxWorkers int
	Timeout    time.Duration
	Logger     *logging.Logger
}

func NewTaskRunner(d TaskRunnerDeps) *TaskRunner {
	if d.MaxWorkers <= 0 {
		d.MaxWorkers = 1
	}
	if d.Logger == nil {
		d.Logger = logging.NewTestLogger()
	}
	return &TaskRunner{
		engine:     d.Engine,
		users:      d.Users,
		quota:      d.Quota,
		registry:   d.Registry,
		downloader: d.Downloader,
		notify:     d.Notify,
		sem:        semaphore.NewWeighted(int64(d.MaxWorkers)),
		tempDir:    d.TempDir,
		timeout:    d.Timeout,
		log:        d.Logger.With("component", "tasks"),
	}
}

// Run executes req.  Quota denials surface as *QuotaDeniedError; archive
// failures keep the archive package's error types.
func (r *TaskRunner) Run(ctx context.Context, req TaskRequest) (res TaskResult, err error) {
	if (req.ArchivePath == "") == (req.URL == "") {
		return TaskResult{}, fmt.Errorf("%w: exactly one of archive_path and url is required", ErrInvalidTask)
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return TaskResult{}, err
	}
	defer r.sem.Release(1)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() { tasksTotal.WithLabelValues(outcome(err)).Inc() }()

	taskID := uuid.NewString()
	taskDir := filepath.Join(r.tempDir, taskID)
	fs := r.engine.Fs()
	log := r.log.With("task_id", taskID, "user_id", req.UserID)

	// anything left in taskDir is removed unless it was registered
	registered := false
	defer func() {
		if !registered {
			_ = fs.RemoveAll(taskDir)
		}
	}()

	archivePath, sizeMB, err := r.source(ctx, req, taskDir)
	if err != nil {
		return TaskResult{}, err
	}
	if _, err := r.quota.Check(ctx, req.UserID, sizeMB); err != nil {
		return TaskResult{}, err
	}

	outDir := filepath.Join(taskDir, "out")
	res = TaskResult{TaskID: taskID, Kind: r.engine.Detect(archivePath), SizeMB: sizeMB, OutputDir: outDir}
	start := time.Now()
	if req.Member != "" {
		res.MemberPath, err = r.engine.ExtractOne(ctx, archivePath, outDir, req.Member, req.Password)
	} else {
		var m model.ArchiveManifest
		m, err = r.engine.Extract(ctx, archivePath, outDir, req.Password)
		res.Manifest = &m
	}
	extractDuration.WithLabelValues(res.Kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("extraction failed", "archive", archivePath, "err", err)
		return TaskResult{}, err
	}

	profile := r.users.Get(ctx, req.UserID)
	rec, err := r.registry.Register(ctx, req.UserID, taskDir, profile.Settings.AutoDeleteMinutes)
	if err != nil {
		return TaskResult{}, err
	}
	registered = true
	res.ExpiresAt = rec.ExpiresAt()

	if _, err := r.users.RecordTask(ctx, req.UserID, sizeMB); err != nil {
		return TaskResult{}, err
	}

	files := 1
	if res.Manifest != nil {
		files = res.Manifest.Counts.TotalFiles
	}
	if r.notify != nil {
		_ = r.notify.PublishTaskCompleted(ctx, queue.TaskCompletedEvent{
			TaskID:      taskID,
			UserID:      req.UserID,
			ArchiveKind: res.Kind.String(),
			SizeMB:      sizeMB,
			Files:       files,
			Member:      req.Member,
			OutputPath:  outDir,
			ExpiresAt:   res.ExpiresAt.Format(time.RFC3339),
			CompletedAt: time.Now().UTC().Format(time.RFC3339),
		})
	}
	log.Info("task completed", "kind", res.Kind, "size_mb", sizeMB, "files", files)
	return res, nil
}

// source resolves the archive to a local path and its size in MiB,
// downloading it into taskDir when a URL was given.
func (r *TaskRunner) source(ctx context.Context, req TaskRequest, taskDir string) (string, float64, error) {
	if req.ArchivePath != "" {
		p, err := ResolveArchivePath(r.tempDir, req.ArchivePath)
		if err != nil {
			return "", 0, err
		}
		st, err := r.engine.Fs().Stat(p)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrInvalidTask, err)
		}
		if st.IsDir() {
			return "", 0, fmt.Errorf("%w: archive_path is a directory", ErrInvalidTask)
		}
		return p, float64(st.Size()) / (1024 * 1024), nil
	}
	if r.downloader == nil {
		return "", 0, fmt.Errorf("%w: downloads are disabled", ErrInvalidTask)
	}
	// admission before spending bandwidth; the size is checked again below
	if _, err := r.quota.Check(ctx, req.UserID, 0); err != nil {
		return "", 0, err
	}
	maxMB := r.quota.MaxArchiveMB(r.users.Get(ctx, req.UserID))
	dl, err := r.downloader.Download(ctx, req.URL, taskDir, int64(maxMB*1024*1024))
	if errors.Is(err, fetch.ErrTooLarge) {
		return "", 0, &QuotaDeniedError{Decision: Decision{
			Reason:  DenyArchiveTooLarge,
			Message: fmt.Sprintf("archive exceeds the %s limit", mbString(maxMB)),
		}}
	}
	if err != nil {
		return "", 0, err
	}
	return dl.Path, dl.SizeMB(), nil
}

// ResolveArchivePath resolves p below tempDir and rejects anything outside
// it.  Relative paths are taken relative to tempDir.
func ResolveArchivePath(tempDir, p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(tempDir, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(filepath.Clean(tempDir), p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: archive_path must be inside the temp dir", ErrInvalidTask)
	}
	return p, nil
}

func outcome(err error) string {
	var qd *QuotaDeniedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &qd):
		return "denied"
	case errors.Is(err, ErrInvalidTask):
		return "invalid"
	default:
		return "failed"
	}
}

package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeka/zip"

	"github.com/iliyamo/unpacker/internal/archive"
	"github.com/iliyamo/unpacker/internal/fetch"
)

func zipBytes(t *testing.T, password string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		var (
			w   io.Writer
			err error
		)
		if password != "" {
			w, err = zw.Encrypt(name, password, zip.AES256Encryption)
		} else {
			w, err = zw.Create(name)
		}
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type taskFixture struct {
	fs       afero.Fs
	clock    *fakeClock
	users    *UserStore
	registry *Registry
	notify   *recordingNotifier
	runner   *TaskRunner
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	users := newTestStore(nil, clock)
	registry := NewRegistry(RegistryOptions{Clock: clock.Now})
	notify := &recordingNotifier{}
	runner := NewTaskRunner(TaskRunnerDeps{
		Engine:     archive.NewEngine(fs, nil),
		Users:      users,
		Quota:      NewQuotaService(users, testLimits, clock.Now),
		Registry:   registry,
		Downloader: fetch.NewDownloader(fs, 5*time.Second, nil),
		Notify:     notify,
		TempDir:    "/dl",
		MaxWorkers: 2,
		Timeout:    time.Minute,
	})
	return &taskFixture{fs: fs, clock: clock, users: users, registry: registry, notify: notify, runner: runner}
}

func TestTaskRunnerLocalArchive(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	data := zipBytes(t, "", map[string]string{"movie.mkv": "v", "docs/readme.txt": "r"})
	require.NoError(t, afero.WriteFile(f.fs, "/dl/in.zip", data, 0o644))

	res, err := f.runner.Run(ctx, TaskRequest{UserID: 1, ArchivePath: "in.zip"})
	require.NoError(t, err)
	assert.Equal(t, archive.KindZip, res.Kind)
	require.NotNil(t, res.Manifest)
	assert.Equal(t, 2, res.Manifest.Counts.TotalFiles)
	assert.Equal(t, 1, res.Manifest.Counts.Videos)
	assert.True(t, f.clock.Now().Add(30*time.Minute).Equal(res.ExpiresAt))

	body, err := afero.ReadFile(f.fs, filepath.Join(res.OutputDir, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "r", string(body))

	p := f.users.Get(ctx, 1)
	assert.Equal(t, 1, p.Usage.DailyTaskCount)
	assert.InDelta(t, float64(len(data))/(1024*1024), p.Usage.DailySizeMB, 1e-9)
	assert.Equal(t, 1, f.registry.Len())
	require.Len(t, f.notify.tasks, 1)
	assert.Equal(t, res.TaskID, f.notify.tasks[0].TaskID)
	assert.Equal(t, 2, f.notify.tasks[0].Files)

	// an immediate second task has to wait
	_, err = f.runner.Run(ctx, TaskRequest{UserID: 1, ArchivePath: "/dl/in.zip"})
	var denied *QuotaDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, DenyMustWait, denied.Decision.Reason)
	assert.Equal(t, 1, f.registry.Len())

	// after the wait the task dir is reaped on schedule
	f.clock.Advance(30 * time.Minute)
	sw := NewSweeper(f.registry, f.fs, time.Minute, nil, nil)
	assert.Len(t, sw.RunOnce(ctx).Reaped, 1)
	exists, _ := afero.DirExists(f.fs, filepath.Dir(res.OutputDir))
	assert.False(t, exists)
}

func TestTaskRunnerSingleMember(t *testing.T) {
	f := newTaskFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/dl/in.zip",
		zipBytes(t, "", map[string]string{"a/one.pdf": "1", "two.txt": "2"}), 0o644))

	res, err := f.runner.Run(context.Background(), TaskRequest{UserID: 2, ArchivePath: "in.zip", Member: `a\one.pdf`})
	require.NoError(t, err)
	assert.Nil(t, res.Manifest)
	assert.Equal(t, filepath.Join(res.OutputDir, "a", "one.pdf"), res.MemberPath)
	require.Len(t, f.notify.tasks, 1)
	assert.Equal(t, 1, f.notify.tasks[0].Files)
}

func TestTaskRunnerPasswordRequiredLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/dl/secret.zip",
		zipBytes(t, "hunter2", map[string]string{"a.txt": "a"}), 0o644))

	_, err := f.runner.Run(ctx, TaskRequest{UserID: 3, ArchivePath: "secret.zip"})
	require.ErrorIs(t, err, archive.ErrPasswordRequired)

	entries, err := afero.ReadDir(f.fs, "/dl")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "secret.zip", entries[0].Name())
	assert.Zero(t, f.registry.Len())
	assert.Zero(t, f.users.Get(ctx, 3).Usage.DailyTaskCount)

	_, err = f.runner.Run(ctx, TaskRequest{UserID: 3, ArchivePath: "secret.zip", Password: "hunter2"})
	require.NoError(t, err)
}

func TestTaskRunnerInvalidRequests(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()
	for _, req := range []TaskRequest{
		{UserID: 1},
		{UserID: 1, ArchivePath: "a.zip", URL: "http://x/a.zip"},
		{UserID: 1, ArchivePath: "../etc/passwd"},
		{UserID: 1, ArchivePath: "/etc/passwd"},
		{UserID: 1, ArchivePath: "missing.zip"},
	} {
		_, err := f.runner.Run(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidTask, "%+v", req)
	}
}

func TestTaskRunnerBannedUser(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/dl/in.zip", zipBytes(t, "", map[string]string{"a.txt": "a"}), 0o644))
	f.users.SetBanned(ctx, 4, true)

	_, err := f.runner.Run(ctx, TaskRequest{UserID: 4, ArchivePath: "in.zip"})
	var denied *QuotaDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, DenyBanned, denied.Decision.Reason)
}

func TestTaskRunnerDownload(t *testing.T) {
	ctx := context.Background()
	f := newTaskFixture(t)
	data := zipBytes(t, "", map[string]string{"list.m3u": "#EXTM3U"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	res, err := f.runner.Run(ctx, TaskRequest{UserID: 5, URL: srv.URL + "/files/pack.zip"})
	require.NoError(t, err)
	assert.Equal(t, archive.KindZip, res.Kind)
	assert.Equal(t, 1, res.Manifest.Counts.Playlists)

	// the downloaded archive lives inside the registered task dir
	exists, _ := afero.Exists(f.fs, filepath.Join(filepath.Dir(res.OutputDir), "pack.zip"))
	assert.True(t, exists)
}

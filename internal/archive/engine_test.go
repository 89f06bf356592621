package archive

import (
	"context"
	"errors"
	"testing"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		build func(*testing.T, afero.Fs, string, []entry)
	}{
		{"zip", "/in/sample.zip", writeZip},
		{"tar.gz", "/in/sample.tar.gz", writeTarGz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			tt.build(t, fs, tt.path, sampleEntries)
			eng := NewEngine(fs, nil)

			m, err := eng.Extract(context.Background(), tt.path, "/out", "")
			require.NoError(t, err)

			assert.Equal(t, model.ManifestCounts{
				TotalFiles: 4, Videos: 1, PDF: 1, APK: 1, Text: 1, Folders: 1,
			}, m.Counts)
			assert.ElementsMatch(t, []string{"a.mp4", "b.pdf", "notes.txt", "sub/c.apk"}, m.Files)

			body, err := afero.ReadFile(fs, "/out/sub/c.apk")
			require.NoError(t, err)
			assert.Equal(t, "PK-apk", string(body))
		})
	}
}

func TestExtractSkipsTarLinks(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTarGz(t, fs, "/in/sample.tgz", sampleEntries)

	_, err := NewEngine(fs, nil).Extract(context.Background(), "/in/sample.tgz", "/out", "ignored")
	require.NoError(t, err)

	exists, err := afero.Exists(fs, "/out/link")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractCompressedStream(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeGzipStream(t, fs, "/in/report.txt.gz", "just a text file")

	m, err := NewEngine(fs, nil).Extract(context.Background(), "/in/report.txt.gz", "/out", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.txt"}, m.Files)
	assert.Equal(t, 1, m.Counts.Text)
}

func TestExtractOne(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/sample.zip", sampleEntries)
	eng := NewEngine(fs, nil)

	out, err := eng.ExtractOne(context.Background(), "/in/sample.zip", "/out", `sub\c.apk`, "")
	require.NoError(t, err)
	assert.Equal(t, "/out/sub/c.apk", out)

	exists, err := afero.Exists(fs, "/out/a.mp4")
	require.NoError(t, err)
	assert.False(t, exists, "only the requested member is written")
}

func TestExtractOneMissingMemberWritesNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTarGz(t, fs, "/in/sample.tar.gz", sampleEntries)

	_, err := NewEngine(fs, nil).ExtractOne(context.Background(), "/in/sample.tar.gz", "/fresh", "nope.txt", "")
	require.ErrorIs(t, err, ErrMemberNotFound)

	exists, err := afero.DirExists(fs, "/fresh")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractPasswords(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/locked.zip", []entry{
		{name: "open.txt", body: "public"},
		{name: "secret.txt", body: "private", password: "hunter2"},
	})
	eng := NewEngine(fs, nil)
	ctx := context.Background()

	_, err := eng.Extract(ctx, "/in/locked.zip", "/out1", "")
	require.ErrorIs(t, err, ErrPasswordRequired)

	_, err = eng.Extract(ctx, "/in/locked.zip", "/out2", "wrong")
	require.Error(t, err)
	assert.True(t, IsWrongPassword(err))
	exists, _ := afero.DirExists(fs, "/out2")
	assert.False(t, exists, "created destination is removed on failure")

	m, err := eng.Extract(ctx, "/in/locked.zip", "/out3", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Counts.Text)
	body, err := afero.ReadFile(fs, "/out3/secret.txt")
	require.NoError(t, err)
	assert.Equal(t, "private", string(body))
}

func TestExtractRejectsEscapingNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/evil.zip", []entry{{name: "../evil.txt", body: "pwned"}})

	_, err := NewEngine(fs, nil).Extract(context.Background(), "/in/evil.zip", "/out", "")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonCorrupt, ee.Reason)

	exists, _ := afero.Exists(fs, "/evil.txt")
	assert.False(t, exists)
}

func TestExtractCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/sample.zip", sampleEntries)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(fs, nil).Extract(ctx, "/in/sample.zip", "/out", "")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonCancelled, ee.Reason)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtractUnsupported(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/notes.md", []byte("# hi"), 0o644))

	_, err := NewEngine(fs, nil).Extract(context.Background(), "/in/notes.md", "/out", "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestExtractCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/broken.zip", []byte("PK but not really"), 0o644))

	_, err := NewEngine(fs, nil).Extract(context.Background(), "/in/broken.zip", "/out", "")
	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, ReasonCorrupt, ee.Reason)
}

func TestInspect(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/in/sample.zip", sampleEntries)

	in, err := NewEngine(fs, nil).Inspect(context.Background(), "/in/sample.zip")
	require.NoError(t, err)
	assert.Equal(t, KindZip, in.Kind)
	assert.False(t, in.Encrypted)
	assert.Len(t, in.Members, 4)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.CategoryVideo, Classify("MOVIE.MKV"))
	assert.Equal(t, model.CategoryPlaylist, Classify("list.m3u8"))
	assert.Equal(t, model.CategoryAPK, Classify("game.xapk"))
	assert.Equal(t, model.CategoryOther, Classify("Makefile"))
}

package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Codec is the capability every archive format implements.  Member names
// are reported exactly as the archive index stores them.
type Codec interface {
	// List returns the regular-file members of the archive.
	List(ctx context.Context, path, password string) ([]string, error)
	// ExtractAll writes every member below destDir.
	ExtractAll(ctx context.Context, path, destDir, password string) error
	// ExtractOne writes a single member below destDir and returns its path.
	// The caller has already verified that member is in the index.
	ExtractOne(ctx context.Context, path, destDir, member, password string) (string, error)
	// IsPasswordError reports whether err is the codec's dedicated
	// "password required" or "wrong password" condition.
	IsPasswordError(err error) bool
}

// newCodecs builds the dispatch table.  It is exhaustive over the known
// kinds.
func newCodecs(fs afero.Fs) map[Kind]Codec {
	return map[Kind]Codec{
		KindZip:      zipCodec{fs: fs},
		KindTar:      tarCodec{fs: fs},
		KindSevenZip: sevenZipCodec{fs: fs},
		KindRar:      rarCodec{fs: fs},
	}
}

// NormalizeMember converts a member path to the forward-slash form used by
// archive indexes.
func NormalizeMember(member string) string {
	return strings.ReplaceAll(member, `\`, "/")
}

// safeJoin resolves an archive member name below destDir, rejecting
// absolute names and names that climb out of destDir.
func safeJoin(destDir, name string) (string, error) {
	norm := NormalizeMember(name)
	if strings.HasPrefix(norm, "/") || filepath.IsAbs(norm) || filepath.VolumeName(norm) != "" {
		return "", fmt.Errorf("%q: %w", name, errUnsafePath)
	}
	target := filepath.Join(destDir, filepath.FromSlash(norm))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, errUnsafePath)
	}
	return target, nil
}

// ctxReader aborts reads once ctx is done so long copies honour
// cancellation.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// writeMember copies src into target, creating parent directories.
func writeMember(ctx context.Context, fs afero.Fs, target string, src io.Reader) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: src}); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// openSized opens path and returns the file with its size, for codecs that
// need an io.ReaderAt.
func openSized(fs afero.Fs, path string) (afero.File, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

package archive

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"github.com/ulikunitz/xz"
)

// lz4Magic is the LZ4 frame magic number, little endian.
var lz4Magic = []byte{0x04, 0x22, 0x4d, 0x18}

// sniffLen is how much of the head is read to pick a decompressor.
const sniffLen = 3072

// streamSuffixes are stripped from a compressed non-tar stream to name the
// single decompressed output.
var streamSuffixes = []string{".gz", ".bz2", ".xz", ".zst", ".lz4"}

type tarCodec struct {
	fs afero.Fs
}

// tarStream is an opened, decompressed tar candidate.
type tarStream struct {
	r          io.Reader
	compressed bool
	closers    []func() error
}

func (s *tarStream) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c tarCodec) open(path string) (*tarStream, error) {
	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}
	s := &tarStream{closers: []func() error{f.Close}}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		_ = s.Close()
		return nil, err
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = s.Close()
		return nil, err
	}

	if bytes.HasPrefix(head, lz4Magic) {
		s.r, s.compressed = lz4.NewReader(f), true
		return s, nil
	}

	switch mimetype.Detect(head).String() {
	case "application/gzip":
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, zr.Close)
		s.r, s.compressed = zr, true
	case "application/x-bzip2":
		s.r, s.compressed = bzip2.NewReader(f), true
	case "application/x-xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.r, s.compressed = xr, true
	case "application/zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() error { zr.Close(); return nil })
		s.r, s.compressed = zr, true
	default:
		s.r = f
	}
	return s, nil
}

// notTar reports whether the first header read failed because the
// decompressed stream is not a tar archive at all.
func notTar(s *tarStream, err error) bool {
	return s.compressed && (errors.Is(err, tar.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF))
}

// streamName names the single output of a compressed non-tar stream.
func streamName(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, suf := range streamSuffixes {
		if strings.HasSuffix(lower, suf) && len(base) > len(suf) {
			return base[:len(base)-len(suf)]
		}
	}
	return base + ".out"
}

// walk calls fn for each header until fn returns stop or the stream ends.
// single is set when the stream is a compressed non-tar file.
func (c tarCodec) walk(ctx context.Context, path string, fn func(*tar.Header, io.Reader) (bool, error)) (single bool, err error) {
	s, err := c.open(path)
	if err != nil {
		return false, err
	}
	defer s.Close()

	tr := tar.NewReader(ctxReader{ctx: ctx, r: s.r})
	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			if first && notTar(s, err) {
				return true, nil
			}
			return false, fmt.Errorf("tar: %w", err)
		}
		stop, err := fn(hdr, tr)
		if err != nil || stop {
			return false, err
		}
	}
}

func (c tarCodec) List(ctx context.Context, path, _ string) ([]string, error) {
	var names []string
	single, err := c.walk(ctx, path, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if single {
		return []string{streamName(path)}, nil
	}
	return names, nil
}

func (c tarCodec) ExtractAll(ctx context.Context, path, destDir, _ string) error {
	single, err := c.walk(ctx, path, func(hdr *tar.Header, r io.Reader) (bool, error) {
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return false, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return false, c.fs.MkdirAll(target, 0o755)
		case tar.TypeReg:
			return false, writeMember(ctx, c.fs, target, r)
		default:
			// links and device nodes are never materialised
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	if single {
		_, err := c.extractStream(ctx, path, destDir)
		return err
	}
	return nil
}

func (c tarCodec) ExtractOne(ctx context.Context, path, destDir, member, _ string) (string, error) {
	var out string
	single, err := c.walk(ctx, path, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Typeflag != tar.TypeReg || hdr.Name != member {
			return false, nil
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return false, err
		}
		if err := writeMember(ctx, c.fs, target, r); err != nil {
			return false, err
		}
		out = target
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if single {
		if member != streamName(path) {
			return "", ErrMemberNotFound
		}
		return c.extractStream(ctx, path, destDir)
	}
	if out == "" {
		return "", ErrMemberNotFound
	}
	return out, nil
}

func (c tarCodec) extractStream(ctx context.Context, path, destDir string) (string, error) {
	s, err := c.open(path)
	if err != nil {
		return "", err
	}
	defer s.Close()
	target := filepath.Join(destDir, streamName(path))
	if err := writeMember(ctx, c.fs, target, s.r); err != nil {
		return "", err
	}
	return target, nil
}

// IsPasswordError is always false: tar has no encryption.
func (tarCodec) IsPasswordError(error) bool { return false }

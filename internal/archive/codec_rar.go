package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/nwaples/rardecode/v2"
	"github.com/spf13/afero"
)

// errRarFirstVolume is returned when the archive opens on a continuation
// volume, i.e. the first volume of the set is missing.
var errRarFirstVolume = errors.New("rar: first volume missing")

type rarCodec struct {
	fs afero.Fs
}

// volumeFS lets rardecode open sibling volumes (x.part2.rar, x.r00) through
// afero.  Unlike afero.IOFS it accepts rooted paths.
type volumeFS struct {
	fs afero.Fs
}

func (v volumeFS) Open(name string) (fs.File, error) {
	return v.fs.Open(name)
}

// walk streams the archive headers across every volume of the set, calling
// fn for each until it returns stop.
func (c rarCodec) walk(ctx context.Context, path, password string, fn func(*rardecode.FileHeader, io.Reader) (bool, error)) error {
	opts := []rardecode.Option{rardecode.FileSystem(volumeFS{fs: c.fs})}
	if password != "" {
		opts = append(opts, rardecode.Password(password))
	}
	rr, err := rardecode.OpenReader(path, opts...)
	if err != nil {
		return fmt.Errorf("rar: %w", err)
	}
	defer rr.Close()

	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if first && errors.Is(err, rardecode.ErrInvalidFileBlock) {
			return fmt.Errorf("%w: %w", errRarFirstVolume, err)
		}
		if err != nil {
			return fmt.Errorf("rar: %w", err)
		}
		stop, err := fn(hdr, rr)
		if err != nil || stop {
			return err
		}
	}
}

func (c rarCodec) List(ctx context.Context, path, password string) ([]string, error) {
	var names []string
	err := c.walk(ctx, path, password, func(hdr *rardecode.FileHeader, _ io.Reader) (bool, error) {
		if !hdr.IsDir {
			names = append(names, hdr.Name)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (c rarCodec) ExtractAll(ctx context.Context, path, destDir, password string) error {
	return c.walk(ctx, path, password, func(hdr *rardecode.FileHeader, r io.Reader) (bool, error) {
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return false, err
		}
		if hdr.IsDir {
			return false, c.fs.MkdirAll(target, 0o755)
		}
		if err := writeMember(ctx, c.fs, target, r); err != nil {
			return false, fmt.Errorf("rar: %s: %w", hdr.Name, err)
		}
		return false, nil
	})
}

func (c rarCodec) ExtractOne(ctx context.Context, path, destDir, member, password string) (string, error) {
	var out string
	err := c.walk(ctx, path, password, func(hdr *rardecode.FileHeader, r io.Reader) (bool, error) {
		if hdr.IsDir || hdr.Name != member {
			return false, nil
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return false, err
		}
		if err := writeMember(ctx, c.fs, target, r); err != nil {
			return false, fmt.Errorf("rar: %s: %w", hdr.Name, err)
		}
		out = target
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrMemberNotFound
	}
	return out, nil
}

func (rarCodec) IsPasswordError(err error) bool {
	return errors.Is(err, rardecode.ErrArchiveEncrypted) ||
		errors.Is(err, rardecode.ErrArchivedFileEncrypted) ||
		errors.Is(err, rardecode.ErrBadPassword)
}

// rarEncrypted opens the archive without a password and reads the first
// header, and the first byte of the first file, to surface either header or
// content encryption.  A set opened on a continuation volume also reports
// true.
func (c rarCodec) rarEncrypted(ctx context.Context, path string) (bool, error) {
	err := c.walk(ctx, path, "", func(hdr *rardecode.FileHeader, r io.Reader) (bool, error) {
		if hdr.IsDir {
			return false, nil
		}
		_, err := io.CopyN(io.Discard, r, 1)
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return true, err
	})
	if err != nil {
		if c.IsPasswordError(err) || errors.Is(err, errRarFirstVolume) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

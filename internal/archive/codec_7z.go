package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/bodgit/sevenzip"
	"github.com/spf13/afero"
)

// errSevenZipChecksum is returned when a member's extracted bytes do not
// match its stored CRC32.  For content encrypted under plain headers this is
// how a wrong or missing password shows up.
var errSevenZipChecksum = errors.New("7z: checksum mismatch")

// decoyPassword is never a real password; decoding with it shows whether
// the content depends on the password at all.
const decoyPassword = "\x00unpacker-decoy"

type sevenZipCodec struct {
	fs afero.Fs
}

func (c sevenZipCodec) open(path, password string) (*sevenzip.Reader, func() error, error) {
	f, size, err := openSized(c.fs, path)
	if err != nil {
		return nil, nil, err
	}
	var r *sevenzip.Reader
	if password != "" {
		r, err = sevenzip.NewReaderWithPassword(f, size, password)
	} else {
		r, err = sevenzip.NewReader(f, size)
	}
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return r, f.Close, nil
}

func (c sevenZipCodec) List(ctx context.Context, path, password string) ([]string, error) {
	r, closeFn, err := c.open(path, password)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

func (c sevenZipCodec) ExtractAll(ctx context.Context, path, destDir, password string) error {
	r, closeFn, err := c.open(path, password)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := c.fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := c.extractFile(ctx, path, f, target); err != nil {
			return err
		}
	}
	return nil
}

func (c sevenZipCodec) ExtractOne(ctx context.Context, path, destDir, member, password string) (string, error) {
	r, closeFn, err := c.open(path, password)
	if err != nil {
		return "", err
	}
	defer closeFn()

	for _, f := range r.File {
		if f.Name != member || f.FileInfo().IsDir() {
			continue
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return "", err
		}
		if err := c.extractFile(ctx, path, f, target); err != nil {
			return "", err
		}
		return target, nil
	}
	return "", ErrMemberNotFound
}

func (c sevenZipCodec) extractFile(ctx context.Context, path string, f *sevenzip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("7z: %s: %w", f.Name, err)
	}
	defer rc.Close()
	sum := crc32.NewIEEE()
	if err := writeMember(ctx, c.fs, target, io.TeeReader(rc, sum)); err != nil {
		return fmt.Errorf("7z: %s: %w", f.Name, err)
	}
	if f.CRC32 == 0 || sum.Sum32() == f.CRC32 {
		return nil
	}
	_ = c.fs.Remove(target)
	enc, _ := c.sevenZipEncrypted(path)
	return fmt.Errorf("7z: %s: %w", f.Name, &sevenzip.ReadError{Encrypted: enc, Err: errSevenZipChecksum})
}

func (sevenZipCodec) IsPasswordError(err error) bool {
	var re sevenzip.ReadError
	if errors.As(err, &re) && re.Encrypted {
		return true
	}
	var rp *sevenzip.ReadError
	return errors.As(err, &rp) && rp.Encrypted
}

// sevenZipEncrypted opens the archive without a password.  Header
// encryption fails the open and encrypted compressed content fails the
// first read.  Encrypted stored content decodes without error, so the
// smallest member is also decoded under a dummy password: plain content
// comes out identical, ciphertext does not.
func (c sevenZipCodec) sevenZipEncrypted(path string) (bool, error) {
	r, closeFn, err := c.open(path, "")
	if err != nil {
		if c.IsPasswordError(err) {
			return true, nil
		}
		return false, err
	}
	defer closeFn()

	idx := smallestMember(r.File)
	if idx < 0 {
		return false, nil
	}
	plain, err := readPrefix(r.File[idx])
	if err != nil {
		if c.IsPasswordError(err) {
			return true, nil
		}
		return false, err
	}

	alt, closeAlt, err := c.open(path, decoyPassword)
	if err != nil {
		return false, err
	}
	defer closeAlt()
	other, err := readPrefix(alt.File[idx])
	if err != nil {
		return c.IsPasswordError(err), nil
	}
	return !bytes.Equal(plain, other), nil
}

// smallestMember returns the index of the smallest non-empty regular file,
// or -1.
func smallestMember(files []*sevenzip.File) int {
	idx := -1
	for i, f := range files {
		if f.FileInfo().IsDir() || f.UncompressedSize == 0 {
			continue
		}
		if idx < 0 || f.UncompressedSize < files[idx].UncompressedSize {
			idx = i
		}
	}
	return idx
}

func readPrefix(f *sevenzip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, 64))
}

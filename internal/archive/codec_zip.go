package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/yeka/zip"
)

// zipEncryptedFlag is bit 0 of the general purpose flags.
const zipEncryptedFlag = 0x1

type zipCodec struct {
	fs afero.Fs
}

// zipPasswordError marks a failure reading an encrypted entry with a
// password set: ZipCrypto reports a wrong password as a checksum or
// inflate error, so the entry's encryption is what identifies it.
type zipPasswordError struct {
	name string
	err  error
}

func (e *zipPasswordError) Error() string {
	return fmt.Sprintf("zip: %s: %v", e.name, e.err)
}

func (e *zipPasswordError) Unwrap() error { return e.err }

func (c zipCodec) open(path string) (*zip.Reader, func() error, error) {
	f, size, err := openSized(c.fs, path)
	if err != nil {
		return nil, nil, err
	}
	zr, err := zip.NewReader(f, size)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return zr, f.Close, nil
}

func (c zipCodec) List(ctx context.Context, path, _ string) ([]string, error) {
	zr, closeFn, err := c.open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if isZipDir(f) {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

func (c zipCodec) ExtractAll(ctx context.Context, path, destDir, password string) error {
	zr, closeFn, err := c.open(path)
	if err != nil {
		return err
	}
	defer closeFn()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if isZipDir(f) {
			if err := c.fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := c.extractFile(ctx, f, target, password); err != nil {
			return err
		}
	}
	return nil
}

func (c zipCodec) ExtractOne(ctx context.Context, path, destDir, member, password string) (string, error) {
	zr, closeFn, err := c.open(path)
	if err != nil {
		return "", err
	}
	defer closeFn()

	for _, f := range zr.File {
		if f.Name != member {
			continue
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return "", err
		}
		if err := c.extractFile(ctx, f, target, password); err != nil {
			return "", err
		}
		return target, nil
	}
	return "", ErrMemberNotFound
}

func (c zipCodec) extractFile(ctx context.Context, f *zip.File, target, password string) error {
	encrypted := f.Flags&zipEncryptedFlag != 0
	if encrypted {
		if password == "" {
			return fmt.Errorf("%s: %w", f.Name, ErrPasswordRequired)
		}
		f.SetPassword(password)
	}
	rc, err := f.Open()
	if err != nil {
		return c.wrap(f, encrypted, err)
	}
	defer rc.Close()
	if err := writeMember(ctx, c.fs, target, rc); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return c.wrap(f, encrypted, err)
	}
	return nil
}

func (c zipCodec) wrap(f *zip.File, encrypted bool, err error) error {
	if encrypted {
		return &zipPasswordError{name: f.Name, err: err}
	}
	return fmt.Errorf("zip: %s: %w", f.Name, err)
}

func (zipCodec) IsPasswordError(err error) bool {
	var pe *zipPasswordError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, zip.ErrPassword) ||
		errors.Is(err, zip.ErrDecryption) ||
		errors.Is(err, zip.ErrAuthentication)
}

// zipEncrypted reports whether any entry sets the encryption bit.  Every
// entry is checked because archives may mix encrypted and plain members.
func (c zipCodec) zipEncrypted(path string) (bool, error) {
	zr, closeFn, err := c.open(path)
	if err != nil {
		return false, err
	}
	defer closeFn()

	for _, f := range zr.File {
		if f.Flags&zipEncryptedFlag != 0 {
			return true, nil
		}
	}
	return false, nil
}

func isZipDir(f *zip.File) bool {
	return strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir()
}

package archive

import (
	"context"

	"github.com/spf13/afero"
)

// IsEncrypted reports whether the archive needs a password.  It never
// fails: unreadable or unknown archives report false and the extraction
// that follows surfaces the real error.
func IsEncrypted(ctx context.Context, fs afero.Fs, path string, kind Kind) bool {
	var (
		enc bool
		err error
	)
	switch kind {
	case KindZip:
		enc, err = zipCodec{fs: fs}.zipEncrypted(path)
	case KindSevenZip:
		enc, err = sevenZipCodec{fs: fs}.sevenZipEncrypted(path)
	case KindRar:
		enc, err = rarCodec{fs: fs}.rarEncrypted(ctx, path)
	default:
		return false
	}
	return err == nil && enc
}

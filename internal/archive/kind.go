// Package archive detects archive formats and encryption, and extracts
// archives through per-format codecs.  All filesystem access goes through
// an afero.Fs so the engine runs unchanged against the OS or an in-memory
// filesystem.
package archive

import "fmt"

// Kind is the container format of an archive.
type Kind int

const (
	KindUnknown Kind = iota
	KindZip
	KindTar
	KindSevenZip
	KindRar
)

// String returns the short name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindTar:
		return "tar"
	case KindSevenZip:
		return "7z"
	case KindRar:
		return "rar"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind as its short name in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

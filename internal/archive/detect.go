package archive

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"
	"github.com/spf13/afero"
	"github.com/yeka/zip"
)

// compoundSuffixes is checked first, in order, against the lowercased
// base name.
var compoundSuffixes = []struct {
	suffix string
	kind   Kind
}{
	{".tar.gz", KindTar},
	{".tgz", KindTar},
	{".tar.bz2", KindTar},
	{".tbz2", KindTar},
	{".tar.xz", KindTar},
	{".tar.zst", KindTar},
	{".tzst", KindTar},
	{".tar.lz4", KindTar},
	{".zip", KindZip},
	{".7z", KindSevenZip},
	{".rar", KindRar},
}

// singleSuffixes is the fallback keyed by the last extension only.
var singleSuffixes = map[string]Kind{
	".tar": KindTar,
	".gz":  KindTar,
	".bz2": KindTar,
	".xz":  KindTar,
	".zst": KindTar,
	".lz4": KindTar,
	".zip": KindZip,
	".7z":  KindSevenZip,
	".rar": KindRar,
}

// Detect classifies path by suffix and, failing that, by attempting to open
// it as a Zip and then as a Rar.  The file is only ever opened read-only.
func Detect(fs afero.Fs, path string) Kind {
	if k := detectBySuffix(path); k != KindUnknown {
		return k
	}
	return detectByHeader(fs, path)
}

func detectBySuffix(path string) Kind {
	name := strings.ToLower(filepath.Base(path))
	for _, c := range compoundSuffixes {
		if strings.HasSuffix(name, c.suffix) {
			return c.kind
		}
	}
	if k, ok := singleSuffixes[filepath.Ext(name)]; ok {
		return k
	}
	return KindUnknown
}

func detectByHeader(fs afero.Fs, path string) Kind {
	f, err := fs.Open(path)
	if err != nil {
		return KindUnknown
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return KindUnknown
	}
	if _, err := zip.NewReader(f, st.Size()); err == nil {
		return KindZip
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return KindUnknown
	}
	if _, err := rardecode.NewReader(f); err == nil {
		return KindRar
	}
	return KindUnknown
}

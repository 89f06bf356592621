package archive

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/spf13/afero"
)

// categoryRules is evaluated in order; the first matching extension wins.
var categoryRules = []struct {
	category model.Category
	exts     []string
}{
	{model.CategoryVideo, []string{".mp4", ".mkv", ".mov", ".avi", ".webm"}},
	{model.CategoryPDF, []string{".pdf"}},
	{model.CategoryAPK, []string{".apk", ".xapk", ".apks"}},
	{model.CategoryText, []string{".txt"}},
	{model.CategoryPlaylist, []string{".m3u", ".m3u8"}},
}

// Classify buckets a file name by its lowercased extension.
func Classify(name string) model.Category {
	ext := strings.ToLower(filepath.Ext(name))
	for _, rule := range categoryRules {
		for _, e := range rule.exts {
			if ext == e {
				return rule.category
			}
		}
	}
	return model.CategoryOther
}

// Scan walks destDir and builds the manifest of what is on disk.  destDir
// itself is not counted as a folder; file paths are slash-separated and
// relative to destDir.
func Scan(fs afero.Fs, destDir string) (model.ArchiveManifest, error) {
	m := model.ArchiveManifest{Files: []string{}}
	err := afero.Walk(fs, destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == destDir {
			return nil
		}
		if info.IsDir() {
			m.Counts.Folders++
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(destDir, path)
		if err != nil {
			return err
		}
		m.Counts.Add(Classify(info.Name()))
		m.Files = append(m.Files, filepath.ToSlash(rel))
		return nil
	})
	return m, err
}

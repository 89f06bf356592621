package model

// Category is the bucket an extracted file is counted under.
type Category string

const (
	CategoryVideo    Category = "videos"
	CategoryPDF      Category = "pdf"
	CategoryAPK      Category = "apk"
	CategoryText     Category = "txt"
	CategoryPlaylist Category = "m3u"
	CategoryOther    Category = "others"
)

// ManifestCounts are the per-category totals of an extracted tree.
type ManifestCounts struct {
	TotalFiles int `json:"total_files"`
	Videos     int `json:"videos"`
	PDF        int `json:"pdf"`
	APK        int `json:"apk"`
	Text       int `json:"txt"`
	Playlists  int `json:"m3u"`
	Others     int `json:"others"`
	Folders    int `json:"folders"`
}

// ArchiveManifest summarises an extraction result.  Files holds
// destination-relative, slash-separated paths in traversal order; each
// extracted file appears exactly once.  It is never persisted.
type ArchiveManifest struct {
	Counts ManifestCounts `json:"stats"`
	Files  []string       `json:"files"`
}

// Add counts one regular file under the given category.
func (c *ManifestCounts) Add(cat Category) {
	c.TotalFiles++
	switch cat {
	case CategoryVideo:
		c.Videos++
	case CategoryPDF:
		c.PDF++
	case CategoryAPK:
		c.APK++
	case CategoryText:
		c.Text++
	case CategoryPlaylist:
		c.Playlists++
	default:
		c.Others++
	}
}

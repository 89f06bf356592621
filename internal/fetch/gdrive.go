package fetch

import (
	"net/url"
	"strings"
)

// NormalizeURL rewrites Google Drive share links to their direct download
// form and returns any other URL unchanged.
func NormalizeURL(raw string) string {
	if id := driveFileID(raw); id != "" {
		return "https://drive.google.com/uc?export=download&id=" + url.QueryEscape(id)
	}
	return raw
}

// driveFileID understands:
//
//	https://drive.google.com/file/d/FILE_ID/view?usp=sharing
//	https://drive.google.com/open?id=FILE_ID
//	https://drive.google.com/uc?export=download&id=FILE_ID
func driveFileID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !strings.HasSuffix(u.Hostname(), "drive.google.com") {
		return ""
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	for i, p := range parts {
		if p == "d" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

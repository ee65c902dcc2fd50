package unionfs

import (
	"path"
	"strings"

	"github.com/mwantia/unionfs/data"
)

// normalizePath cleans a union path into canonical absolute form:
// leading slash, no trailing slash (except the root), no dot segments.
func normalizePath(pathname string) (string, error) {
	if pathname == "" {
		return "", data.ErrInvalidPath
	}

	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}

	cleaned := path.Clean(pathname)
	if strings.Contains(cleaned, "/../") || strings.HasSuffix(cleaned, "/..") {
		return "", data.ErrInvalidPath
	}

	return cleaned, nil
}

// branchKey converts a canonical union path into a backend key: relative,
// no leading slash, "" for the root.
func branchKey(pathname string) string {
	return strings.TrimPrefix(pathname, "/")
}

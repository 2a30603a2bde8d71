package localstorage

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeKey turns a directory into its cache key: cleaned, slash
// separated, without a trailing slash and case folded.
func NormalizeKey(directory string) string {
	p := filepath.ToSlash(filepath.Clean(directory))
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return cases.Fold().String(p)
}

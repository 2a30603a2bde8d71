package extension

import (
	"errors"
	"regexp"
	"strings"
)

// MaxHandleLength is the longest handle the platform accepts.
const MaxHandleLength = 30

var (
	ErrHandleEmpty        = errors.New("handle can't be empty")
	ErrHandleTooLong      = errors.New("handle can't exceed 30 characters")
	ErrHandleCharacters   = errors.New("handle can only contain alphanumeric characters and hyphens")
	ErrHandleHyphenEdge   = errors.New("handle can't start or end with a hyphen")
	ErrHandleAllHyphens   = errors.New("handle can't be all hyphens")
	handleCharsPattern    = regexp.MustCompile(`^[a-zA-Z0-9-]*$`)
	slugDisallowedPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// ValidateHandle checks a handle after trimming surrounding whitespace.
func ValidateHandle(handle string) error {
	h := strings.TrimSpace(handle)
	switch {
	case h == "":
		return ErrHandleEmpty
	case len(h) > MaxHandleLength:
		return ErrHandleTooLong
	case !handleCharsPattern.MatchString(h):
		return ErrHandleCharacters
	case strings.Trim(h, "-") == "":
		return ErrHandleAllHyphens
	case strings.HasPrefix(h, "-") || strings.HasSuffix(h, "-"):
		return ErrHandleHyphenEdge
	}
	return nil
}

// Slugify turns a display name into a handle candidate.
func Slugify(name string) string {
	s := slugDisallowedPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxHandleLength {
		s = strings.TrimRight(s[:MaxHandleLength], "-")
	}
	return s
}

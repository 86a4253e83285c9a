package security

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrAbsolutePath  = errors.New("absolute paths are not allowed")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrHiddenName    = errors.New("filename cannot start with a dot or hyphen")

	reservedNames = map[string]bool{
		"con": true, "prn": true, "aux": true, "nul": true,
		"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
		"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	}
)

// ValidateDownloadPath checks a user-supplied destination for a downloaded
// ad image. Only relative paths inside the working directory are accepted.
func ValidateDownloadPath(path string) error {
	if filepath.IsAbs(path) || strings.HasPrefix(path, `\`) {
		return ErrAbsolutePath
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return ErrPathTraversal
		}
	}

	base := filepath.Base(filepath.Clean(path))
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "-") {
		return ErrHiddenName
	}
	if reservedNames[stem(base)] {
		return ErrReservedName
	}
	return nil
}

// DownloadFilename derives a safe file name for an ad image from its
// headline, e.g. "Smart Space: Built for You!" -> "smart-space-built-for-you.png".
func DownloadFilename(headline, ext string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(headline) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
		if b.Len() >= 60 {
			break
		}
	}

	name := strings.Trim(b.String(), "-")
	if name == "" || reservedNames[name] {
		name = "ad-image"
	}

	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	return name + "." + ext
}

func stem(base string) string {
	base = strings.ToLower(base)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

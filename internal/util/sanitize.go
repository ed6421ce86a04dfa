package util

import (
	"net/http"
	"path"
	"regexp"
	"strings"
	"unicode"

	"go-file-transfer/pkg/apierror"
)

const maxFilenameRunes = 255

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	reservedStem         = regexp.MustCompile(`^(?i:CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])$`)
)

func invalidFilename(message string, name string) error {
	return apierror.New("INVALID_FILENAME", message, name, http.StatusBadRequest)
}

// SanitizeFilename cleans one path segment sent by a client. Control and
// invisible format characters are dropped, characters that are invalid on
// common filesystems become "_", and over-long names are cut to 255 runes
// keeping their extension.
func SanitizeFilename(name string, allowHidden bool) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", invalidFilename("filename cannot be empty", "")
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", invalidFilename("filename contains null bytes", trimmed)
	}

	visible := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, trimmed)

	cleaned := strings.TrimSpace(invalidFilenameChars.ReplaceAllString(visible, "_"))
	switch {
	case cleaned == "":
		return "", invalidFilename("filename is invalid after sanitization", trimmed)
	case cleaned == "." || cleaned == "..":
		return "", invalidFilename("filename cannot be current or parent directory", cleaned)
	case strings.HasPrefix(cleaned, ".") && !allowHidden:
		return "", invalidFilename("hidden filenames are not allowed", cleaned)
	}

	cleaned = truncateRunes(cleaned, maxFilenameRunes)

	stem, _, _ := strings.Cut(cleaned, ".")
	if reservedStem.MatchString(stem) {
		return "", invalidFilename("reserved filename is not allowed", cleaned)
	}

	return cleaned, nil
}

// truncateRunes shortens name to limit runes, keeping a short extension.
func truncateRunes(name string, limit int) string {
	runes := []rune(name)
	if len(runes) <= limit {
		return name
	}

	ext := []rune(path.Ext(name))
	if len(ext) == 0 || len(ext) > 16 {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(ext)]) + string(ext)
}

// SanitizeRelativePath sanitizes every segment of a slash separated relative
// path. Empty segments are dropped; parent references are rejected.
func SanitizeRelativePath(rel string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/")

	var segments []string
	for _, segment := range strings.Split(normalized, "/") {
		switch segment {
		case "", ".":
			continue
		case "..":
			return "", apierror.New("PATH_TRAVERSAL", "relative path must not leave its base", rel, http.StatusBadRequest)
		}

		cleaned, err := SanitizeFilename(segment, true)
		if err != nil {
			return "", err
		}
		segments = append(segments, cleaned)
	}

	if len(segments) == 0 {
		return "", invalidFilename("path cannot be empty", rel)
	}
	return strings.Join(segments, "/"), nil
}

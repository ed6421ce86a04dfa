package storage

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"go-file-transfer/pkg/apierror"
)

// NormalizeAPIPath cleans a client path into the canonical "/a/b" form.
func NormalizeAPIPath(value string) string {
	return path.Clean("/" + strings.ReplaceAll(strings.TrimSpace(value), `\`, "/"))
}

// JoinAPIPath joins a directory and a relative name, keeping any
// sub-directories the name carries.
func JoinAPIPath(dir string, name string) string {
	return NormalizeAPIPath(NormalizeAPIPath(dir) + "/" + strings.ReplaceAll(name, `\`, "/"))
}

// confine maps an API path onto the filesystem below root. Parent segments
// and control characters are rejected before cleaning so that "a/../b" is an
// error rather than silently becoming "b".
func confine(root string, clientPath string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(clientPath), `\`, "/")

	if strings.IndexFunc(raw, unicode.IsControl) >= 0 {
		return "", apierror.New("INVALID_PATH", "path contains invalid characters", clientPath, http.StatusBadRequest)
	}
	for _, segment := range strings.Split(raw, "/") {
		if segment == ".." {
			return "", apierror.New("PATH_TRAVERSAL", "path traversal attempt detected", clientPath, http.StatusForbidden)
		}
	}

	rel := strings.TrimPrefix(path.Clean("/"+raw), "/")
	if rel == "" {
		return root, nil
	}

	resolved := filepath.Join(root, filepath.FromSlash(rel))
	if !within(root, resolved) {
		return "", apierror.New("PATH_TRAVERSAL", "resolved path is outside storage root", clientPath, http.StatusForbidden)
	}
	return resolved, nil
}

func within(root string, candidate string) bool {
	return candidate == root || strings.HasPrefix(candidate, root+string(filepath.Separator))
}

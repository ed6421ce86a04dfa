package service

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/storage"
	"go-file-transfer/pkg/apierror"
)

const maxRenameAttempts = 10000

// normalizeConflictStrategy defaults to auto_rename and accepts "rename" as
// an alias.
func normalizeConflictStrategy(raw string) (string, error) {
	strategy := strings.ToLower(strings.TrimSpace(raw))
	switch strategy {
	case "", "rename", model.ConflictAutoRename:
		return model.ConflictAutoRename, nil
	case model.ConflictOverwrite, model.ConflictSkip:
		return strategy, nil
	default:
		return "", apierror.New("BAD_REQUEST", "invalid conflict_strategy (allowed: auto_rename|overwrite|skip)", raw, http.StatusBadRequest)
	}
}

// resolveConflictTarget picks the destination for desiredPath. A name counts
// as taken when it exists in storage or when taken reports it as claimed.
// Nothing is removed here; overwrite targets are replaced when written.
func resolveConflictTarget(store storage.Storage, desiredPath string, strategy string, taken func(string) bool) (string, bool, error) {
	if taken == nil {
		taken = func(string) bool { return false }
	}

	desiredPath = storage.NormalizeAPIPath(desiredPath)
	if _, err := store.Resolve(desiredPath); err != nil {
		return "", false, err
	}

	inUse := func(candidate string) bool {
		return taken(candidate) || storage.Exists(store, candidate)
	}

	if !inUse(desiredPath) {
		return desiredPath, false, nil
	}

	switch strategy {
	case model.ConflictSkip:
		return "", true, nil
	case model.ConflictOverwrite:
		return desiredPath, false, nil
	case model.ConflictAutoRename:
		ext := path.Ext(desiredPath)
		base := strings.TrimSuffix(path.Base(desiredPath), ext)
		parent := path.Dir(desiredPath)

		for index := 1; index <= maxRenameAttempts; index++ {
			candidate := storage.JoinAPIPath(parent, fmt.Sprintf("%s (%d)%s", base, index, ext))
			if !inUse(candidate) {
				return candidate, false, nil
			}
		}

		return "", false, apierror.New("CONFLICT", "could not resolve unique target name", desiredPath, http.StatusConflict)
	default:
		return "", false, apierror.New("BAD_REQUEST", "invalid conflict strategy", strategy, http.StatusBadRequest)
	}
}

// clearOverwriteTarget removes an existing entry that is about to be replaced.
func clearOverwriteTarget(store storage.Storage, target string) error {
	if !storage.Exists(store, target) {
		return nil
	}
	return store.RemoveAll(target)
}

package transfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go-file-transfer/internal/model"
)

// LocalFile is one file to upload. Path is relative to the batch target and
// uses forward slashes; Source is where the bytes are read from.
type LocalFile struct {
	Path   string
	Source string
	Size   int64
}

type BatchRequest struct {
	TargetPath       string
	ConflictStrategy string
	Files            []LocalFile
}

// PlannedFile pairs a local file with the name the server reserved for it.
// Resolved is empty when the file is skipped.
type PlannedFile struct {
	LocalFile
	Resolved string
	Skipped  bool
}

type Batch struct {
	TaskID     string
	TargetPath string
	Files      []PlannedFile
}

type Planner struct {
	api API
}

func NewPlanner(api API) *Planner {
	return &Planner{api: api}
}

// Plan validates the request locally and resolves every destination name in
// a single round trip. On error nothing has been transferred.
func (p *Planner) Plan(ctx context.Context, req BatchRequest) (Batch, error) {
	strategy, err := validateBatch(req)
	if err != nil {
		return Batch{}, err
	}

	files := make([]model.BatchFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = model.BatchFile{Path: f.Path, Size: f.Size}
	}

	resp, err := p.api.CreateBatch(ctx, model.CreateBatchRequest{
		TargetPath:       req.TargetPath,
		Files:            files,
		ConflictStrategy: strategy,
	})
	if err != nil {
		return Batch{}, fmt.Errorf("create batch: %w", err)
	}

	planned, err := matchResolved(req.Files, resp.Files)
	if err != nil {
		return Batch{}, err
	}

	return Batch{TaskID: resp.TaskID, TargetPath: req.TargetPath, Files: planned}, nil
}

func validateBatch(req BatchRequest) (string, error) {
	strategy := req.ConflictStrategy
	switch strategy {
	case "":
		strategy = model.ConflictAutoRename
	case model.ConflictAutoRename, model.ConflictOverwrite, model.ConflictSkip:
	default:
		return "", &ValidationError{Field: "conflict_strategy", Reason: fmt.Sprintf("%q is not one of auto_rename, overwrite, skip", strategy)}
	}

	if strings.TrimSpace(req.TargetPath) == "" {
		return "", &ValidationError{Field: "target_path", Reason: "must not be empty"}
	}
	if len(req.Files) == 0 {
		return "", &ValidationError{Field: "files", Reason: "at least one file is required"}
	}

	seen := make(map[string]struct{}, len(req.Files))
	for _, f := range req.Files {
		clean := path.Clean("/" + f.Path)
		if f.Path == "" || clean == "/" {
			return "", &ValidationError{Field: "files", Reason: "file path must not be empty"}
		}
		if f.Size < 0 {
			return "", &ValidationError{Field: "files", Reason: fmt.Sprintf("%s has a negative size", f.Path)}
		}
		if _, dup := seen[clean]; dup {
			return "", &ValidationError{Field: "files", Reason: fmt.Sprintf("%s is listed twice", f.Path)}
		}
		seen[clean] = struct{}{}
	}

	return strategy, nil
}

// matchResolved pairs the server's answer with the request. The server keeps
// request order, so a mismatch means the answer cannot be trusted.
func matchResolved(local []LocalFile, resolved []model.ResolvedFile) ([]PlannedFile, error) {
	if len(local) != len(resolved) {
		return nil, fmt.Errorf("create batch: server resolved %d of %d files", len(resolved), len(local))
	}

	planned := make([]PlannedFile, len(local))
	for i, f := range local {
		r := resolved[i]
		if r.Original != f.Path {
			return nil, fmt.Errorf("create batch: resolved entry %d is %q, expected %q", i, r.Original, f.Path)
		}
		planned[i] = PlannedFile{LocalFile: f, Skipped: r.Skipped}
		if !r.Skipped {
			if r.Resolved == nil || *r.Resolved == "" {
				return nil, fmt.Errorf("create batch: no destination for %q", f.Path)
			}
			planned[i].Resolved = *r.Resolved
		}
	}
	return planned, nil
}

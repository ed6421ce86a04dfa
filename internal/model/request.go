package model

const (
	ConflictAutoRename = "auto_rename"
	ConflictOverwrite  = "overwrite"
	ConflictSkip       = "skip"
)

// Application-level upload response codes. 498 and 499 are sentinels, not
// failures: the client waits on paused and unwinds on cancelled.
const (
	UploadCodeOK        = 200
	UploadCodePaused    = 498
	UploadCodeCancelled = 499
)

type BatchFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type CreateBatchRequest struct {
	TargetPath       string      `json:"target_path"`
	Files            []BatchFile `json:"files"`
	ConflictStrategy string      `json:"conflict_strategy"`
}

type ResolvedFile struct {
	Original string  `json:"original"`
	Resolved *string `json:"resolved"`
	Skipped  bool    `json:"skipped"`
	// Size is the byte count planned at batch time. Only retry responses
	// carry it.
	Size *int64 `json:"size,omitempty"`
}

type CreateBatchResponse struct {
	TaskID string         `json:"task_id"`
	Files  []ResolvedFile `json:"files"`
}

type ChunkStatusRequest struct {
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	TotalChunks int    `json:"total_chunks"`
}

type ChunkStatusResponse struct {
	UploadedChunks []int `json:"uploaded_chunks"`
}

// UploadPart is the metadata of one upload request. ChunkIndex and
// TotalChunks are nil for an unchunked whole-file upload.
type UploadPart struct {
	Path        string
	Filename    string
	ChunkIndex  *int
	TotalChunks *int
	TotalSize   int64
	TaskID      string
}

type UploadResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	FileOutcomeOK      = "ok"
	FileOutcomeSkipped = "skipped"
	FileOutcomeFailed  = "failed"
)

type FileReport struct {
	Path    string `json:"path"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type FinishBatchRequest struct {
	TaskID  string       `json:"task_id"`
	Results []FileReport `json:"results"`
}

type TaskIDRequest struct {
	TaskID string `json:"task_id"`
}

type OperationRequest struct {
	Type             TaskType `json:"type"`
	Sources          []string `json:"sources"`
	Destination      string   `json:"destination"`
	URL              string   `json:"url,omitempty"`
	ConflictStrategy string   `json:"conflict_strategy"`
}

type RetryResponse struct {
	Task         Task     `json:"task"`
	TargetPath   string   `json:"target_path,omitempty"`
	PendingFiles []string `json:"pending_files,omitempty"`
	// Files maps every pending original path to the name reserved for it,
	// so an upload can resume under the same task id.
	Files []ResolvedFile `json:"files,omitempty"`
}

type TaskListLite struct {
	Code int    `json:"code"`
	Data []Task `json:"data"`
}

type TaskFilter struct {
	Page     int
	PageSize int
	Type     TaskType
	Status   TaskStatus
}

type TaskPage struct {
	Tasks      []Task `json:"tasks"`
	Total      int    `json:"total"`
	TotalPages int    `json:"total_pages"`
	IsAdmin    bool   `json:"is_admin"`
}

type ClearResponse struct {
	Removed int `json:"removed"`
}

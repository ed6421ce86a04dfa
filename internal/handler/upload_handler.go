package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/service"
	"go-file-transfer/pkg/apierror"
)

// multipartHeadroom covers form fields and boundaries around a chunk body.
const multipartHeadroom = 1024 * 1024

type UploadHandler struct {
	batches      *service.BatchService
	chunks       *service.ChunkStore
	maxChunkSize int64
}

func NewUploadHandler(batches *service.BatchService, chunks *service.ChunkStore, maxChunkSize int64) *UploadHandler {
	return &UploadHandler{batches: batches, chunks: chunks, maxChunkSize: maxChunkSize}
}

// CreateBatch handles POST /api/v1/tasks/upload/batch
func (h *UploadHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateBatchRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.batches.CreateUploadBatch(r.Context(), actorFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, resp, nil)
}

// ChunkStatus handles POST /api/v1/tasks/upload/chunks
func (h *UploadHandler) ChunkStatus(w http.ResponseWriter, r *http.Request) {
	var payload model.ChunkStatusRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	uploaded, err := h.chunks.Status(r.Context(), actorFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.ChunkStatusResponse{UploadedChunks: uploaded}, nil)
}

// Upload handles POST /api/v1/tasks/upload. The multipart form is streamed:
// metadata fields must precede the "file" part, whose body goes straight to
// the chunk store without being buffered.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+multipartHeadroom)
	defer r.Body.Close()

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, apierror.New("BAD_REQUEST", "multipart/form-data body required", err.Error(), http.StatusBadRequest))
		return
	}

	fields := map[string]string{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, apierror.New("BAD_REQUEST", "file field is required", "file", http.StatusBadRequest))
			return
		}
		if err != nil {
			writeError(w, uploadReadError(err))
			return
		}

		if part.FormName() != "file" {
			value, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				writeError(w, uploadReadError(err))
				return
			}
			fields[part.FormName()] = strings.TrimSpace(string(value))
			continue
		}

		h.store(w, r, fields, part)
		part.Close()
		return
	}
}

func (h *UploadHandler) store(w http.ResponseWriter, r *http.Request, fields map[string]string, file *multipart.Part) {
	upload, err := uploadPartFromFields(fields, file.FileName())
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.chunks.Upload(r.Context(), actorFromRequest(r), upload, file)
	if err != nil {
		writeError(w, uploadReadError(err))
		return
	}

	writeSuccess(w, http.StatusOK, result, nil)
}

// FinishBatch handles POST /api/v1/tasks/upload/finish
func (h *UploadHandler) FinishBatch(w http.ResponseWriter, r *http.Request) {
	var payload model.FinishBatchRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	task, err := h.batches.FinishBatch(r.Context(), actorFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, task, nil)
}

func uploadPartFromFields(fields map[string]string, fileName string) (model.UploadPart, error) {
	part := model.UploadPart{
		Path:     fields["path"],
		Filename: fields["filename"],
		TaskID:   fields["task_id"],
	}
	if part.Filename == "" {
		part.Filename = fileName
	}
	if part.Path == "" {
		part.Path = "/"
	}

	if raw := fields["total_size"]; raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			return model.UploadPart{}, apierror.New("BAD_REQUEST", "total_size must be a non-negative integer", raw, http.StatusBadRequest)
		}
		part.TotalSize = size
	}

	index, hasIndex, err := optionalInt(fields, "chunk_index")
	if err != nil {
		return model.UploadPart{}, err
	}
	total, hasTotal, err := optionalInt(fields, "total_chunks")
	if err != nil {
		return model.UploadPart{}, err
	}

	if hasIndex != hasTotal {
		return model.UploadPart{}, apierror.New("BAD_REQUEST", "chunk_index and total_chunks must be sent together", "", http.StatusBadRequest)
	}
	if hasIndex {
		if total < 1 || index < 0 || index >= total {
			return model.UploadPart{}, apierror.New("BAD_REQUEST", "chunk_index out of range", strconv.Itoa(index)+"/"+strconv.Itoa(total), http.StatusBadRequest)
		}
		part.ChunkIndex = &index
		part.TotalChunks = &total
	}

	return part, nil
}

func optionalInt(fields map[string]string, key string) (int, bool, error) {
	raw, ok := fields[key]
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, apierror.New("BAD_REQUEST", key+" must be an integer", raw, http.StatusBadRequest)
	}
	return value, true, nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierror.New("PAYLOAD_TOO_LARGE", "upload exceeds the maximum chunk size", strconv.FormatInt(tooLarge.Limit, 10), http.StatusRequestEntityTooLarge)
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return apierror.New("BAD_REQUEST", "upload body ended early", err.Error(), http.StatusBadRequest)
	}
	return err
}

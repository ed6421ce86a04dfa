package client

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"go-file-transfer/internal/model"
)

// CreateBatch reserves final names for every file of an upload batch and
// creates its task.
func (c *Client) CreateBatch(ctx context.Context, req model.CreateBatchRequest) (model.CreateBatchResponse, error) {
	var out model.CreateBatchResponse
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/upload/batch", req, &out)
	return out, err
}

// ChunkStatus lists the chunk indices the server already holds for a file.
func (c *Client) ChunkStatus(ctx context.Context, req model.ChunkStatusRequest) ([]int, error) {
	var out model.ChunkStatusResponse
	if err := c.doJSON(ctx, c.reads, http.MethodPost, "/tasks/upload/chunks", req, &out); err != nil {
		return nil, err
	}
	return out.UploadedChunks, nil
}

// FinishBatch reports per-file outcomes and returns the final task.
func (c *Client) FinishBatch(ctx context.Context, req model.FinishBatchRequest) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/upload/finish", req, &task)
	return task, err
}

// UploadPart sends one chunk, or a whole file when part carries no chunk
// index, as a streamed multipart body. Metadata fields are written before the
// file part. The returned code is 200, 498 (paused) or 499 (cancelled).
func (c *Client) UploadPart(ctx context.Context, part model.UploadPart, body io.Reader) (model.UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, part, body))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/tasks/upload", pr)
	if err != nil {
		pr.CloseWithError(err)
		return model.UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.writes.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return model.UploadResult{}, fmt.Errorf("upload %s: %w", part.Filename, err)
	}
	defer resp.Body.Close()
	// Unblock the writer if the server answered before reading everything.
	defer pr.CloseWithError(io.ErrClosedPipe)

	var result model.UploadResult
	if err := decodeEnvelope(resp, &result); err != nil {
		return model.UploadResult{}, err
	}
	return result, nil
}

func writeUploadForm(mw *multipart.Writer, part model.UploadPart, body io.Reader) error {
	fields := [][2]string{
		{"path", part.Path},
		{"filename", part.Filename},
		{"total_size", strconv.FormatInt(part.TotalSize, 10)},
	}
	if part.ChunkIndex != nil && part.TotalChunks != nil {
		fields = append(fields,
			[2]string{"chunk_index", strconv.Itoa(*part.ChunkIndex)},
			[2]string{"total_chunks", strconv.Itoa(*part.TotalChunks)},
		)
	}
	if part.TaskID != "" {
		fields = append(fields, [2]string{"task_id", part.TaskID})
	}

	for _, field := range fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	fw, err := mw.CreateFormFile("file", part.Filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, body); err != nil {
		return err
	}
	return mw.Close()
}

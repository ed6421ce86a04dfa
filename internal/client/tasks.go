package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go-file-transfer/internal/model"
)

// ListTasks calls GET /tasks, the lightweight list.
func (c *Client) ListTasks(ctx context.Context) ([]model.Task, error) {
	var out model.TaskListLite
	if err := c.doJSON(ctx, c.reads, http.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListPaged calls GET /tasks/paged with the filter as query parameters.
func (c *Client) ListPaged(ctx context.Context, filter model.TaskFilter) (model.TaskPage, error) {
	query := url.Values{}
	if filter.Page > 0 {
		query.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(filter.PageSize))
	}
	if filter.Type != "" {
		query.Set("task_type", string(filter.Type))
	}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}

	path := "/tasks/paged"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page model.TaskPage
	err := c.doJSON(ctx, c.reads, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, c.reads, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &task)
	return task, err
}

func (c *Client) PauseTask(ctx context.Context, taskID string) (model.Task, error) {
	return c.control(ctx, "/tasks/pause", taskID)
}

func (c *Client) ResumeTask(ctx context.Context, taskID string) (model.Task, error) {
	return c.control(ctx, "/tasks/resume", taskID)
}

func (c *Client) CancelTask(ctx context.Context, taskID string) (model.Task, error) {
	return c.control(ctx, "/tasks/cancel", taskID)
}

func (c *Client) control(ctx context.Context, path string, taskID string) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, c.writes, http.MethodPost, path, model.TaskIDRequest{TaskID: taskID}, &task)
	return task, err
}

func (c *Client) RetryTask(ctx context.Context, taskID string) (model.RetryResponse, error) {
	var out model.RetryResponse
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/retry", model.TaskIDRequest{TaskID: taskID}, &out)
	return out, err
}

func (c *Client) RemoveTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/remove", model.TaskIDRequest{TaskID: taskID}, nil)
}

// ClearTasks removes the caller's terminal tasks and returns how many went.
func (c *Client) ClearTasks(ctx context.Context) (int, error) {
	var out model.ClearResponse
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/clear", nil, &out)
	return out.Removed, err
}

// ClearAllTasks is the admin variant of ClearTasks.
func (c *Client) ClearAllTasks(ctx context.Context) (int, error) {
	var out model.ClearResponse
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/clear_all", nil, &out)
	return out.Removed, err
}

// SubmitOperation queues a server-side copy, move, delete, extract or
// download task.
func (c *Client) SubmitOperation(ctx context.Context, req model.OperationRequest) (model.Task, error) {
	var task model.Task
	err := c.doJSON(ctx, c.writes, http.MethodPost, "/tasks/operations", req, &task)
	return task, err
}

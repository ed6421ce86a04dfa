package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"go-file-transfer/internal/model"
	"go-file-transfer/internal/service"
	"go-file-transfer/pkg/apierror"
)

type TasksHandler struct {
	tasks      *service.TaskService
	operations *service.OperationService
}

func NewTasksHandler(tasks *service.TaskService, operations *service.OperationService) *TasksHandler {
	return &TasksHandler{tasks: tasks, operations: operations}
}

// List handles GET /api/v1/tasks. The payload keeps the lightweight
// {code, data} shape polled by clients every second.
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	tasks := h.tasks.List(actorFromRequest(r))
	writeSuccess(w, http.StatusOK, model.TaskListLite{Code: http.StatusOK, Data: tasks}, nil)
}

// Paged handles GET /api/v1/tasks/paged.
func (h *TasksHandler) Paged(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := model.TaskFilter{
		Page:     parseIntOrDefault(query.Get("page"), 1),
		PageSize: parseIntOrDefault(query.Get("page_size"), 20),
		Type:     model.TaskType(strings.TrimSpace(query.Get("task_type"))),
		Status:   model.TaskStatus(strings.TrimSpace(query.Get("status"))),
	}

	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, apierror.New("BAD_REQUEST", "unknown task_type", string(filter.Type), http.StatusBadRequest))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, apierror.New("BAD_REQUEST", "unknown status", string(filter.Status), http.StatusBadRequest))
		return
	}

	page := h.tasks.ListPaged(actorFromRequest(r), filter)
	writeSuccess(w, http.StatusOK, page, &model.Meta{
		Page:       max(filter.Page, 1),
		PageSize:   pageSize(filter.PageSize),
		Total:      page.Total,
		TotalPages: page.TotalPages,
	})
}

func (h *TasksHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if taskID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "task_id is required", "task_id", http.StatusBadRequest))
		return
	}

	task, err := h.tasks.Get(actorFromRequest(r), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, task, nil)
}

func (h *TasksHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.tasks.Pause)
}

func (h *TasksHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.tasks.Resume)
}

func (h *TasksHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.tasks.Cancel)
}

func (h *TasksHandler) Retry(w http.ResponseWriter, r *http.Request) {
	taskID, ok := readTaskID(w, r)
	if !ok {
		return
	}

	resp, err := h.tasks.Retry(r.Context(), actorFromRequest(r), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, resp, nil)
}

func (h *TasksHandler) Remove(w http.ResponseWriter, r *http.Request) {
	taskID, ok := readTaskID(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Remove(r.Context(), actorFromRequest(r), taskID); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "removed"}, nil)
}

// Clear handles POST /api/v1/tasks/clear: the caller's finished tasks.
func (h *TasksHandler) Clear(w http.ResponseWriter, r *http.Request) {
	removed := h.tasks.Clear(r.Context(), actorFromRequest(r))
	writeSuccess(w, http.StatusOK, model.ClearResponse{Removed: removed}, nil)
}

// ClearAll handles POST /api/v1/tasks/clear_all (admin only).
func (h *TasksHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	removed, err := h.tasks.ClearAll(r.Context(), actorFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.ClearResponse{Removed: removed}, nil)
}

// CreateOperation handles POST /api/v1/tasks/operations.
func (h *TasksHandler) CreateOperation(w http.ResponseWriter, r *http.Request) {
	var payload model.OperationRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	task, err := h.operations.Submit(r.Context(), actorFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusAccepted, task, nil)
}

type controlFunc func(ctx context.Context, actor model.Actor, taskID string) (model.Task, error)

func (h *TasksHandler) control(w http.ResponseWriter, r *http.Request, apply controlFunc) {
	taskID, ok := readTaskID(w, r)
	if !ok {
		return
	}

	task, err := apply(r.Context(), actorFromRequest(r), taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, task, nil)
}

func readTaskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var payload model.TaskIDRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, err)
		return "", false
	}

	taskID := strings.TrimSpace(payload.TaskID)
	if taskID == "" {
		writeError(w, apierror.New("BAD_REQUEST", "task_id is required", "task_id", http.StatusBadRequest))
		return "", false
	}
	return taskID, true
}

func parseIntOrDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

// pageSize mirrors the clamping TaskService.ListPaged applies.
func pageSize(requested int) int {
	switch {
	case requested <= 0:
		return 20
	case requested > 200:
		return 200
	}
	return requested
}

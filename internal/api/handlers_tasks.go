package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"crontabd/internal/core"
)

// maxPageSize caps how many tasks one list request can return.
const maxPageSize = 1000

type taskResponse struct {
	ID         string        `json:"id"`
	Version    uint64        `json:"version"`
	Spec       core.TaskSpec `json:"spec"`
	LastTrig   *string       `json:"last_trig,omitempty"`
	Success    *bool         `json:"success,omitempty"`
	ErrorCount int64         `json:"error_count"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var spec core.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if validation := core.ValidateSpec(&spec); !validation.Valid {
		writeError(w, http.StatusBadRequest, "invalid_input", validation.Message)
		return
	}

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	entity, err := store.Create(r.Context(), core.Task{Spec: spec})
	if err != nil {
		s.logger.Error("create task", "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, taskToResponse(entity))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	start, end, ok := parseRange(r.Header.Get("Range"))
	if !ok {
		w.Header().Set("Content-Range", "Task */0")
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", "malformed range, expected start-end")
		return
	}

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	entities, total, err := store.Page(r.Context(), start, end)
	if err != nil {
		s.logger.Error("list tasks", "tenant", tenant, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	if total > 0 && start >= total {
		w.Header().Set("Content-Range", fmt.Sprintf("Task */%d", total))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range",
			fmt.Sprintf("start index %d is past the last task", start))
		return
	}

	res := make([]taskResponse, 0, len(entities))
	for _, entity := range entities {
		res = append(res, taskToResponse(entity))
	}

	if start == 0 && int64(len(res)) == total {
		writeJSON(w, http.StatusOK, res)
		return
	}
	last := start
	if len(res) > 0 {
		last = start + int64(len(res)) - 1
	}
	w.Header().Set("Content-Range", fmt.Sprintf("Task %d-%d/%d", start, last, total))
	writeJSON(w, http.StatusPartialContent, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	taskID := chi.URLParam(r, "taskID")

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	entity, err := store.Retrieve(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task", "tenant", tenant, "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(entity))
}

// handleUpdateTask replaces the task's schedule spec. The trigger bookkeeping
// survives the update: a failing task stays close to eviction even when its
// owner re-posts the spec.
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	taskID := chi.URLParam(r, "taskID")

	var spec core.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if validation := core.ValidateSpec(&spec); !validation.Valid {
		writeError(w, http.StatusBadRequest, "invalid_input", validation.Message)
		return
	}

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	entity, err := store.Retrieve(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for update", "tenant", tenant, "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	task := entity.Task
	task.Spec = spec
	updated, err := store.Update(r.Context(), entity, task)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("update task", "tenant", tenant, "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(updated))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	taskID := chi.URLParam(r, "taskID")

	store, err := s.crontab.ForTenant(tenant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	entity, err := store.Retrieve(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for delete", "tenant", tenant, "task_id", taskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	if err := store.Delete(r.Context(), entity); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		s.logger.Error("delete task", "tenant", tenant, "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange reads a "start-end" range header. An absent header means the
// first page; the window is clamped to maxPageSize entries.
func parseRange(header string) (start, end int64, ok bool) {
	if strings.TrimSpace(header) == "" {
		return 0, maxPageSize - 1, true
	}
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	if end-start+1 > maxPageSize {
		end = start + maxPageSize - 1
	}
	return start, end, true
}

func taskToResponse(entity core.TaskEntity) taskResponse {
	var last *string
	if entity.Task.LastTrig != nil {
		formatted := entity.Task.LastTrig.UTC().Format(time.RFC3339)
		last = &formatted
	}
	return taskResponse{
		ID:         entity.ID,
		Version:    entity.Version,
		Spec:       entity.Task.Spec,
		LastTrig:   last,
		Success:    entity.Task.Success,
		ErrorCount: entity.Task.ErrorCount,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}

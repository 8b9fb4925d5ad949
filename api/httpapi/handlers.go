package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dedezza1D/bibtask/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string, details string) {
	writeJSON(w, status, apiError{Error: msg, Details: details})
}

func taskID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func parseLimit(r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 200 {
		return 0, false
	}
	return n, true
}

type getTaskResponse struct {
	Task store.Task `json:"task"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, getTaskResponse{Task: *task})
}

type listTasksResponse struct {
	Items  []store.Task `json:"items"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	qp := r.URL.Query()

	var status *store.Status
	if v := qp.Get("status"); v != "" {
		sv := store.Status(v)
		if !sv.Valid() {
			writeErr(w, http.StatusBadRequest, "validation_error", "invalid status")
			return
		}
		status = &sv
	}

	var kind *string
	if v := qp.Get("kind"); v != "" {
		kind = &v
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
		return
	}

	offset := 0
	if v := qp.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "validation_error", "offset must be >= 0")
			return
		}
		offset = n
	}

	items, err := s.store.ListTasks(r.Context(), store.ListTasksParams{
		Status: status,
		Proc:   kind,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if items == nil {
		items = []store.Task{}
	}

	writeJSON(w, http.StatusOK, listTasksResponse{
		Items:  items,
		Limit:  limit,
		Offset: offset,
	})
}

type statusCountsResponse struct {
	Counts map[store.Status]int `json:"counts"`
}

func (s *Server) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusCountsResponse{Counts: counts})
}

type listRunsResponse struct {
	Items []store.Run `json:"items"`
	Limit int         `json:"limit"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "invalid task id")
		return
	}

	limit, ok := parseLimit(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "validation_error", "limit must be 1..200")
		return
	}

	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeErr(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	items, err := s.store.ListRuns(r.Context(), id, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if items == nil {
		items = []store.Run{}
	}

	writeJSON(w, http.StatusOK, listRunsResponse{
		Items: items,
		Limit: limit,
	})
}

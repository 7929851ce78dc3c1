package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/telterm/internal/db"
	"github.com/user/telterm/internal/pty"
)

type createSessionRequest struct {
	Host  string `json:"host"`
	Port  int    `json:"port,omitempty"`
	Cols  int    `json:"cols,omitempty"`
	Rows  int    `json:"rows,omitempty"`
	Label string `json:"label,omitempty"`
}

type writeSessionRequest struct {
	Data string `json:"data"`
}

type resizeSessionRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

const maxHistoryLimit = 500

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.startSession(w, r, pty.StartRequest{
		Host:  req.Host,
		Port:  req.Port,
		Cols:  req.Cols,
		Rows:  req.Rows,
		Label: req.Label,
	})
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request, req pty.StartRequest) {
	id, err := h.sessions.Start(r.Context(), req)
	if err != nil {
		status, msg := mapSessionError(err)
		jsonError(w, status, msg)
		return
	}
	info, err := h.sessions.Get(id)
	if err != nil {
		// Killed between start and lookup; the id is still valid history.
		jsonResponse(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	jsonResponse(w, http.StatusCreated, info)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.sessions.ListSessions())
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		status, msg := mapSessionError(err)
		jsonError(w, status, msg)
		return
	}
	jsonResponse(w, http.StatusOK, info)
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request) {
	var req writeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.sessions.Write(r.PathValue("id"), req.Data); err != nil {
		status, msg := mapSessionError(err)
		jsonError(w, status, msg)
		return
	}
	noContent(w)
}

func (h *handler) resizeSession(w http.ResponseWriter, r *http.Request) {
	var req resizeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.sessions.Resize(r.PathValue("id"), req.Cols, req.Rows); err != nil {
		status, msg := mapSessionError(err)
		jsonError(w, status, msg)
		return
	}
	noContent(w)
}

// killSession always succeeds: an unknown or already removed id is a
// no-op.
func (h *handler) killSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Kill(r.PathValue("id"))
	noContent(w)
}

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	filter := db.SessionLogFilter{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Host:   strings.TrimSpace(r.URL.Query().Get("host")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			jsonError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxHistoryLimit)
	}
	switch filter.Status {
	case "", db.SessionStatusRunning, db.SessionStatusExited, db.SessionStatusKilled, db.SessionStatusFailed:
	default:
		jsonError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(filter.Status))
		return
	}

	entries, err := h.sessions.History(r.Context(), filter)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, entries)
}

func mapSessionError(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	switch {
	case errors.Is(err, pty.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, pty.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, pty.ErrRegistryClosed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, pty.ErrAllocation), errors.Is(err, pty.ErrSpawn):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

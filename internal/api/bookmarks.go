package api

import (
	"errors"
	"net/http"

	"github.com/user/telterm/internal/bookmarks"
	"github.com/user/telterm/internal/pty"
)

func (h *handler) listBookmarks(w http.ResponseWriter, r *http.Request) {
	if h.bookmarks == nil {
		jsonError(w, http.StatusInternalServerError, "bookmark store unavailable")
		return
	}
	jsonResponse(w, http.StatusOK, h.bookmarks.List())
}

func (h *handler) getBookmark(w http.ResponseWriter, r *http.Request) {
	if h.bookmarks == nil {
		jsonError(w, http.StatusInternalServerError, "bookmark store unavailable")
		return
	}
	b := h.bookmarks.Get(r.PathValue("id"))
	if b == nil {
		jsonError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	jsonResponse(w, http.StatusOK, b)
}

func (h *handler) saveBookmark(w http.ResponseWriter, r *http.Request) {
	if h.bookmarks == nil {
		jsonError(w, http.StatusInternalServerError, "bookmark store unavailable")
		return
	}
	var b bookmarks.Bookmark
	if err := decodeJSON(r, &b); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	if b.ID != "" && b.ID != id {
		jsonError(w, http.StatusBadRequest, "id in body does not match path")
		return
	}
	b.ID = id

	status := http.StatusOK
	if h.bookmarks.Get(id) == nil {
		status = http.StatusCreated
	}
	if err := h.bookmarks.Save(&b); err != nil {
		jsonError(w, bookmarkErrorStatus(err), err.Error())
		return
	}
	jsonResponse(w, status, h.bookmarks.Get(id))
}

func (h *handler) deleteBookmark(w http.ResponseWriter, r *http.Request) {
	if h.bookmarks == nil {
		jsonError(w, http.StatusInternalServerError, "bookmark store unavailable")
		return
	}
	if err := h.bookmarks.Delete(r.PathValue("id")); err != nil {
		jsonError(w, bookmarkErrorStatus(err), err.Error())
		return
	}
	noContent(w)
}

// openBookmark starts a session from a saved destination.
func (h *handler) openBookmark(w http.ResponseWriter, r *http.Request) {
	if h.bookmarks == nil {
		jsonError(w, http.StatusInternalServerError, "bookmark store unavailable")
		return
	}
	b := h.bookmarks.Get(r.PathValue("id"))
	if b == nil {
		jsonError(w, http.StatusNotFound, "bookmark not found")
		return
	}
	h.startSession(w, r, pty.StartRequest{
		Host:  b.Host,
		Port:  b.Port,
		Cols:  b.Cols,
		Rows:  b.Rows,
		Label: b.Label,
	})
}

func bookmarkErrorStatus(err error) int {
	switch {
	case errors.Is(err, bookmarks.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, bookmarks.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

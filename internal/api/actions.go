package api

import (
	"net/http"

	"github.com/user/telterm/internal/deeplink"
)

type pushActionsRequest struct {
	URLs []string `json:"urls"`
}

type pushActionsResponse struct {
	Accepted  int  `json:"accepted"`
	Delivered bool `json:"delivered"`
}

func (h *handler) consumeActions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, h.actions.Consume())
}

// pushActions accepts telnet:// URLs from a second invocation of the
// binary. They go straight to connected clients when there are any and
// wait in the queue otherwise.
func (h *handler) pushActions(w http.ResponseWriter, r *http.Request) {
	var req pushActionsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	actions := deeplink.FromArgs(req.URLs)
	if len(actions) == 0 {
		jsonError(w, http.StatusBadRequest, "no telnet URLs in request")
		return
	}

	delivered := h.notifier != nil && h.notifier.BroadcastActions(actions)
	if !delivered {
		h.actions.Push(actions...)
	}
	jsonResponse(w, http.StatusAccepted, pushActionsResponse{Accepted: len(actions), Delivered: delivered})
}

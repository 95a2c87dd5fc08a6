package handlers

import (
	"net/http"

	"github.com/sangwookny/wagner/internal/continuation"
)

func (h *Handler) HandleBookPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.methodNotAllowed(w)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if _, err := h.registry.GetBook(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}

	list := h.ingestor.Pending(id)
	out := make([]pendingView, len(list))
	for i, p := range list {
		out[i] = viewPending(p)
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleResolve commits a pending page with a merge or separate decision.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.methodNotAllowed(w)
		return
	}
	var request struct {
		Decision string `json:"decision"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		h.handleError(w, err)
		return
	}

	page, err := h.ingestor.Resolve(r.Context(), r.PathValue("id"), continuation.Decision(request.Decision))
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewPage(page))
}

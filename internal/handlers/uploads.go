package handlers

import (
	"log/slog"
	"net/http"
)

// HandleUpload serves a stored scan or crop by ref.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" && r.Method != "HEAD" {
		h.methodNotAllowed(w)
		return
	}
	data, mimeType, err := h.images.Open(r.PathValue("ref"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if _, err := w.Write(data); err != nil {
		slog.Error("Unable to write image", "ref", r.PathValue("ref"), "err", err)
	}
}

package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sangwookny/wagner/internal/export"
)

func (h *Handler) HandleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		books, err := h.registry.ListBooks(r.Context())
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, books)
	case "POST":
		var request struct {
			Title  string `json:"title"`
			Author string `json:"author"`
		}
		if err := decodeJSON(w, r, &request); err != nil {
			h.handleError(w, err)
			return
		}
		book, err := h.registry.CreateBook(r.Context(), request.Title, request.Author)
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, book)
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) HandleBookDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	switch r.Method {
	case "GET":
		book, err := h.registry.GetBook(r.Context(), id)
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, book)
	case "DELETE":
		if err := h.registry.DeleteBook(r.Context(), id); err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) HandleBookPages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	switch r.Method {
	case "GET":
		list, err := h.registry.Pages(r.Context(), id)
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, viewPages(list))
	case "POST":
		var request pageRequest
		if err := decodeJSON(w, r, &request); err != nil {
			h.handleError(w, err)
			return
		}
		page, err := h.pages.Append(r.Context(), id, request.page())
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, viewPage(page))
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.methodNotAllowed(w)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.YAML)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		h.handleError(w, err)
		return
	}

	book, err := h.registry.GetBook(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	list, err := h.registry.Pages(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Write(&buf, format, book, list); err != nil {
		h.writeError(w, "Unable to export book: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(book, format)))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("Unable to write export", "book_id", id, "err", err)
	}
}

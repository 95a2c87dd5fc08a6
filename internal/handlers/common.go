// Package handlers serves the JSON API over books, pages, scans and
// pending continuation decisions.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/export"
	"github.com/sangwookny/wagner/internal/images"
	"github.com/sangwookny/wagner/internal/pages"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/registry"
	"github.com/sangwookny/wagner/internal/storage"
)

// maxUploadSize bounds uploaded scans.
const maxUploadSize = images.MaxScanSize

var errBadRequest = errors.New("bad request")

type Handler struct {
	registry *registry.Registry
	pages    *pages.Manager
	ingestor *pages.Ingestor
	images   *images.Store
	exporter *export.Exporter
}

func New(reg *registry.Registry, manager *pages.Manager, ingestor *pages.Ingestor, imageStore *images.Store, exporter *export.Exporter) *Handler {
	return &Handler{
		registry: reg,
		pages:    manager,
		ingestor: ingestor,
		images:   imageStore,
		exporter: exporter,
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books", h.HandleBooks)
	mux.HandleFunc("/api/books/{id}", h.HandleBookDetail)
	mux.HandleFunc("/api/books/{id}/pages", h.HandleBookPages)
	mux.HandleFunc("/api/books/{id}/scans", h.HandleScans)
	mux.HandleFunc("/api/books/{id}/pending", h.HandleBookPending)
	mux.HandleFunc("/api/books/{id}/export", h.HandleExport)
	mux.HandleFunc("/api/pending/{id}/resolve", h.HandleResolve)
	mux.HandleFunc("/api/pages/{id}", h.HandlePageDetail)
	mux.HandleFunc("/api/pages/{id}/move", h.HandleMove)
	mux.HandleFunc("/api/pages/{id}/retranslate", h.HandleRetranslate)
	mux.HandleFunc("/api/pages/{id}/recrop", h.HandleRecrop)
	mux.HandleFunc("/api/pages/{id}/history", h.HandleHistory)
	mux.HandleFunc("/api/uploads/{ref}", h.HandleUpload)
	mux.HandleFunc("/healthcheck", h.HandleHealthcheck)
	return mux
}

func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Ping(r.Context()); err != nil {
		h.writeError(w, "storage unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Unable to write healthcheck", "err", err)
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Debug(message, "status", code)
	}
	h.writeJSON(w, code, map[string]string{"error": message})
}

// handleError writes err with the status of its kind.
func (h *Handler) handleError(w http.ResponseWriter, err error) {
	h.writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, providers.ErrCollaborator):
		return http.StatusBadGateway
	case errors.Is(err, pages.ErrStaleProposal):
		return http.StatusConflict
	case errors.Is(err, images.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrBookNotFound),
		errors.Is(err, storage.ErrPageNotFound),
		errors.Is(err, pages.ErrPendingNotFound),
		errors.Is(err, images.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, registry.ErrInvalidTitle),
		errors.Is(err, blocks.ErrInvalidCropRange),
		errors.Is(err, blocks.ErrBlockIndex),
		errors.Is(err, blocks.ErrNotMedia),
		errors.Is(err, blocks.ErrUnknownKind),
		errors.Is(err, pages.ErrInvalidField),
		errors.Is(err, pages.ErrInvalidTarget),
		errors.Is(err, pages.ErrInvalidDirection),
		errors.Is(err, pages.ErrIncompleteTriple),
		errors.Is(err, pages.ErrNoOriginalImage),
		errors.Is(err, pages.ErrEmptySourceText),
		errors.Is(err, continuation.ErrInvalidDecision),
		errors.Is(err, images.ErrNotImage),
		errors.Is(err, images.ErrInvalidRef),
		errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter) {
	h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, raw)
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return nil
}

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sangwookny/wagner/internal/images"
	"github.com/sangwookny/wagner/internal/pages"
)

// HandleScans ingests one page scan, either uploaded as multipart form data
// or fetched from a JSON {"image_url": ...} body. A page that may continue
// the previous one comes back as 202 with the proposal to decide on.
func (h *Handler) HandleScans(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	if _, err := h.registry.GetBook(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}

	var data []byte
	var err error
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		data, err = h.readURLScan(w, r)
	} else {
		data, err = h.readFileScan(w, r)
	}
	if err != nil {
		h.handleError(w, err)
		return
	}

	ref, mimeType, err := h.images.Save(data)
	if err != nil {
		h.handleError(w, err)
		return
	}

	prepared, err := h.ingestor.Prepare(r.Context(), id, pages.Scan{Ref: ref, MIMEType: mimeType, Data: data})
	if err != nil {
		h.handleError(w, err)
		return
	}

	response := map[string]any{}
	if prepared.Warning != "" {
		response["warning"] = prepared.Warning
	}
	if prepared.Pending != nil {
		response["pending"] = viewPending(prepared.Pending)
		h.writeJSON(w, http.StatusAccepted, response)
		return
	}
	response["page"] = viewPage(prepared.Page)
	h.writeJSON(w, http.StatusCreated, response)
}

func (h *Handler) readURLScan(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var request struct {
		ImageURL string `json:"image_url"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		return nil, err
	}
	if request.ImageURL == "" {
		return nil, fmt.Errorf("%w: image_url is required", errBadRequest)
	}
	return h.images.Fetch(r.Context(), request.ImageURL)
}

func (h *Handler) readFileScan(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("files")
	if err != nil {
		file, _, err = r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read file: %v", errBadRequest, err)
		}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file contents: %v", errBadRequest, err)
	}
	if len(data) > maxUploadSize {
		return nil, fmt.Errorf("%w: file exceeds %d MB", images.ErrTooLarge, maxUploadSize>>20)
	}
	return data, nil
}

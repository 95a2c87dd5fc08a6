package handlers

import (
	"net/http"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/pages"
)

func (h *Handler) HandlePageDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}

	switch r.Method {
	case "GET":
		page, err := h.pages.Get(r.Context(), id)
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, viewPage(page))
	case "PUT":
		var request struct {
			GermanText  *string           `json:"german_text"`
			KoreanText  *string           `json:"korean_text"`
			EnglishText *string           `json:"english_text"`
			Sentences   []models.Sentence `json:"sentences"`
		}
		if err := decodeJSON(w, r, &request); err != nil {
			h.handleError(w, err)
			return
		}
		page, err := h.pages.Edit(r.Context(), id, pages.Patch{
			SourceText: request.GermanText,
			Korean:     request.KoreanText,
			English:    request.EnglishText,
			Sentences:  request.Sentences,
		})
		if err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, viewPage(page))
	case "DELETE":
		if err := h.pages.Delete(r.Context(), id); err != nil {
			h.handleError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		h.methodNotAllowed(w)
	}
}

func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	var request struct {
		Direction string `json:"direction"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		h.handleError(w, err)
		return
	}
	direction, err := pages.ParseDirection(request.Direction)
	if err != nil {
		h.handleError(w, err)
		return
	}

	moved, err := h.pages.Move(r.Context(), id, direction)
	if err != nil {
		h.handleError(w, err)
		return
	}
	page, err := h.pages.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	response := map[string]any{"moved": moved, "page": viewPage(page)}
	if !moved {
		response["message"] = "page is already at the " + edge(direction)
	}
	h.writeJSON(w, http.StatusOK, response)
}

func edge(d pages.Direction) string {
	if d == pages.Up {
		return "beginning"
	}
	return "end"
}

func (h *Handler) HandleRetranslate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	var request struct {
		Field string `json:"field"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		h.handleError(w, err)
		return
	}
	if request.Field == "" {
		request.Field = "all"
	}
	langs, err := pages.ParseTarget(request.Field)
	if err != nil {
		h.handleError(w, err)
		return
	}

	page, err := h.pages.Retranslate(r.Context(), id, langs)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewPage(page))
}

func (h *Handler) HandleRecrop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.postID(w, r)
	if !ok {
		return
	}
	var request struct {
		BlockIndex *int    `json:"block_index"`
		CropTop    float64 `json:"crop_top"`
		CropBottom float64 `json:"crop_bottom"`
	}
	if err := decodeJSON(w, r, &request); err != nil {
		h.handleError(w, err)
		return
	}
	if request.BlockIndex == nil {
		h.writeError(w, "block_index is required", http.StatusBadRequest)
		return
	}

	page, err := h.pages.Recrop(r.Context(), id, *request.BlockIndex, blocks.Crop{Top: request.CropTop, Bottom: request.CropBottom})
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewPage(page))
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.methodNotAllowed(w)
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return
	}
	versions, err := h.pages.History(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, versions)
}

// postID checks for POST and parses the path id.
func (h *Handler) postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != "POST" {
		h.methodNotAllowed(w)
		return 0, false
	}
	id, err := pathID(r)
	if err != nil {
		h.handleError(w, err)
		return 0, false
	}
	return id, true
}

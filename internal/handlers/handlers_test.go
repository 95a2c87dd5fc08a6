package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/export"
	"github.com/sangwookny/wagner/internal/images"
	"github.com/sangwookny/wagner/internal/ocr"
	"github.com/sangwookny/wagner/internal/pages"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/registry"
	"github.com/sangwookny/wagner/internal/storage"
	"github.com/sangwookny/wagner/internal/translation"
)

const ocrReply = `{
	"success": true,
	"source_text": "Er ging langsam fort.",
	"page_type": "mixed",
	"page_height": 1000,
	"blocks": [
		{"type": "text", "content": "Er ging langsam fort.", "bbox": {"top": 50, "bottom": 400}},
		{"type": "music_score", "description": "Glockenmotiv", "bbox": {"top": 500, "bottom": 900}}
	]
}`

// fakeProvider answers OCR prompts (which carry an image) with ocrReply and
// translation prompts with translateReply.
type fakeProvider struct {
	mu             sync.Mutex
	translateReply string
}

func (f *fakeProvider) ExtractText(_ context.Context, config providers.Config) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(config.Images) > 0 {
		return ocrReply, nil
	}
	return f.translateReply, nil
}

func translateReply(confidence float64) string {
	return `{
		"korean": "그는 천천히 걸어갔다.",
		"english": "He walked away slowly.",
		"sentences": [{"de": "Er ging langsam fort.", "ko": "그는 천천히 걸어갔다.", "en": "He walked away slowly."}],
		"continuation": {"is_continuation": true, "confidence": ` + strconv.FormatFloat(confidence, 'g', -1, 64) + `, "merged_text": "그는 천천히 걸어갔다."}
	}`
}

type testServer struct {
	provider *fakeProvider
	images   *images.Store
	mux      *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	imageStore, err := images.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	provider := &fakeProvider{translateReply: translateReply(0.2)}
	set := providers.Set{"ollama": provider}
	var splitter *alignment.Splitter

	store := storage.NewMemory()
	translator := translation.NewService(set, "ollama", "", splitter)
	manager := pages.NewManager(store, translator, imageStore, splitter)
	ingestor := pages.NewIngestor(manager, ocr.NewService(set, "ollama", ""), continuation.NewResolver(translator, splitter), pages.NewPendingStore(pages.PendingTTL))
	reg := registry.New(store, manager, imageStore)
	h := New(reg, manager, ingestor, imageStore, export.New(splitter, "/api/uploads/"))

	return &testServer{provider: provider, images: imageStore, mux: h.Routes()}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) upload(t *testing.T, bookID string) *httptest.ResponseRecorder {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewNRGBA(image.Rect(0, 0, 40, 80))); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "page.png")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	part.Write(img.Bytes())
	mw.Close()

	req := httptest.NewRequest("POST", "/api/books/"+bookID+"/scans", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestBooks(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, "POST", "/api/books", map[string]string{"title": "  Parsifal ", "author": "Richard Wagner"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	book := decode[map[string]any](t, rr)
	if book["title"] != "Parsifal" || book["original_language"] != "german" {
		t.Errorf("Unexpected book: %v", book)
	}

	if rr := s.do(t, "POST", "/api/books", map[string]string{"title": " "}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank title, got %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/api/books", nil); len(decode[[]map[string]any](t, rr)) != 1 {
		t.Errorf("Expected 1 book, got %s", rr.Body.String())
	}
	if rr := s.do(t, "GET", "/api/books/42", nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/api/books/abc", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad id, got %d", rr.Code)
	}
	if rr := s.do(t, "PATCH", "/api/books", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rr.Code)
	}
	if rr := s.do(t, "DELETE", "/api/books/1", nil); rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
	if rr := s.do(t, "GET", "/api/books/1", nil); rr.Code != http.StatusNotFound {
		t.Errorf("Expected deleted book to be gone, got %d", rr.Code)
	}
}

func TestPageLifecycle(t *testing.T) {
	s := newTestServer(t)
	book := decode[map[string]any](t, s.do(t, "POST", "/api/books", map[string]string{"title": "Parsifal"}))
	bookPath := fmt.Sprintf("/api/books/%v", book["id"])

	var ids []int64
	for _, text := range []string{"Eins.", "Zwei."} {
		rr := s.do(t, "POST", bookPath+"/pages", map[string]string{
			"german_text": text, "korean_text": "ko " + text, "english_text": "en " + text,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
		ids = append(ids, decode[pageView](t, rr).ID)
	}
	first := fmt.Sprintf("/api/pages/%d", ids[0])
	second := fmt.Sprintf("/api/pages/%d", ids[1])

	rr := s.do(t, "PUT", second, map[string]string{"korean_text": "고친 문장."})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	page := decode[pageView](t, rr)
	if page.KoreanText != "고친 문장." || page.KoreanVersion != 1 {
		t.Errorf("Expected edited text at version 1, got %q v%d", page.KoreanText, page.KoreanVersion)
	}

	rr = s.do(t, "POST", second+"/retranslate", map[string]string{"field": "korean"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if page := decode[pageView](t, rr); page.KoreanVersion != 2 || page.EnglishVersion != 1 {
		t.Errorf("Expected only korean retranslated, got v%d/v%d", page.KoreanVersion, page.EnglishVersion)
	}
	if rr := s.do(t, "POST", second+"/retranslate", map[string]string{"field": "latin"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown field, got %d", rr.Code)
	}

	rr = s.do(t, "GET", second+"/history", nil)
	if versions := decode[[]map[string]any](t, rr); len(versions) != 3 {
		t.Errorf("Expected 3 history entries, got %s", rr.Body.String())
	}

	rr = s.do(t, "POST", second+"/move", map[string]string{"direction": "up"})
	moved := decode[map[string]any](t, rr)
	if moved["moved"] != true {
		t.Errorf("Expected the page moved, got %v", moved)
	}
	rr = s.do(t, "POST", second+"/move", map[string]string{"direction": "up"})
	if moved := decode[map[string]any](t, rr); moved["moved"] != false || rr.Code != http.StatusOK {
		t.Errorf("Expected a no-op at the beginning, got %d %v", rr.Code, moved)
	}
	if rr := s.do(t, "POST", second+"/move", map[string]string{"direction": "sideways"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rr.Code)
	}

	if rr := s.do(t, "POST", second+"/recrop", map[string]any{"block_index": 0, "crop_top": 0, "crop_bottom": 50}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a page without media blocks, got %d", rr.Code)
	}

	if rr := s.do(t, "DELETE", first, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rr.Code)
	}
	rr = s.do(t, "GET", bookPath+"/pages", nil)
	list := decode[[]pageView](t, rr)
	if len(list) != 1 || list[0].ID != ids[1] || list[0].PageNumber != 1 || list[0].GermanText != "Zwei." {
		t.Errorf("Expected the moved page left as page 1, got %+v", list)
	}
}

func TestScansAndContinuation(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/books", map[string]string{"title": "Parsifal"})

	rr := s.upload(t, "1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for the first page, got %d: %s", rr.Code, rr.Body.String())
	}
	first := decode[struct {
		Page pageView `json:"page"`
	}](t, rr)
	if first.Page.PageType != "mixed" || first.Page.KoreanText != "그는 천천히 걸어갔다." {
		t.Errorf("Unexpected page: %+v", first.Page)
	}
	if got := s.do(t, "GET", "/api/uploads/"+first.Page.OriginalImageRef, nil); got.Code != http.StatusOK || got.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Expected the scan served, got %d", got.Code)
	}
	if got := s.do(t, "GET", "/api/uploads/..%2Fsecret", nil); got.Code == http.StatusOK {
		t.Error("Expected traversal refs rejected")
	}

	s.provider.translateReply = translateReply(0.9)
	rr = s.upload(t, "1")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 for a continuation proposal, got %d: %s", rr.Code, rr.Body.String())
	}
	pending := decode[struct {
		Pending pendingView `json:"pending"`
	}](t, rr).Pending
	if pending.Confidence != 0.9 || pending.PreviousPageID != first.Page.ID {
		t.Errorf("Unexpected pending: %+v", pending)
	}

	if rr := s.do(t, "GET", "/api/books/1/pending", nil); len(decode[[]pendingView](t, rr)) != 1 {
		t.Errorf("Expected 1 pending page, got %s", rr.Body.String())
	}
	if rr := s.do(t, "POST", "/api/pending/"+pending.ID+"/resolve", map[string]string{"decision": "maybe"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an invalid decision, got %d", rr.Code)
	}

	rr = s.do(t, "POST", "/api/pending/"+pending.ID+"/resolve", map[string]string{"decision": "merge"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if page := decode[pageView](t, rr); page.PageNumber != 2 || page.ContinuationText != "그는 천천히 걸어갔다." {
		t.Errorf("Expected merged page 2, got %+v", page)
	}
	if rr := s.do(t, "POST", "/api/pending/"+pending.ID+"/resolve", map[string]string{"decision": "merge"}); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 once resolved, got %d", rr.Code)
	}
}

func TestScansUnknownBookStoresNothing(t *testing.T) {
	s := newTestServer(t)

	rr := s.upload(t, "7")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	entries, err := os.ReadDir(s.images.Dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no stored scan, got %d files", len(entries))
	}
}

func TestScansRejectsNonImages(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/books", map[string]string{"title": "Parsifal"})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("just some notes"))
	mw.Close()
	req := httptest.NewRequest("POST", "/api/books/1/scans", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(t, "POST", "/api/books/1/scans", map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without image_url, got %d", rr.Code)
	}
}

func TestExport(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/books", map[string]string{"title": "Parsifal"})
	s.do(t, "POST", "/api/books/1/pages", map[string]string{"german_text": "Eins.", "korean_text": "하나.", "english_text": "One."})

	rr := s.do(t, "GET", "/api/books/1/export?format=md", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.Contains(got, "parsifal.md") {
		t.Errorf("Unexpected Content-Disposition: %s", got)
	}
	if !strings.Contains(rr.Body.String(), "하나.") {
		t.Errorf("Expected the translation in the export, got %s", rr.Body.String())
	}
	if rr := s.do(t, "GET", "/api/books/1/export?format=docx", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown format, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{providers.Fail("ocr", "ollama", images.ErrNotFound), http.StatusBadGateway},
		{pages.ErrStaleProposal, http.StatusConflict},
		{storage.ErrPageNotFound, http.StatusNotFound},
		{continuation.ErrInvalidDecision, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v): expected %d, got %d", tt.err, tt.want, got)
		}
	}
}

func TestHealthcheck(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, "GET", "/healthcheck", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("Expected OK, got %d %q", rr.Code, rr.Body.String())
	}
}

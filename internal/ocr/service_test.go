package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/providers"
)

type fakeProvider struct {
	reply  string
	err    error
	config providers.Config
}

func (f *fakeProvider) ExtractText(_ context.Context, config providers.Config) (string, error) {
	f.config = config
	return f.reply, f.err
}

func TestExtract(t *testing.T) {
	fake := &fakeProvider{reply: "```json\n" + `{
		"success": true,
		"source_text": "Durch Mitleid wissend, der reine Tor.",
		"page_type": "mixed",
		"page_height": 2000,
		"blocks": [
			{"type": "text", "content": "Durch Mitleid wissend, der reine Tor.", "bbox": {"top": 100, "bottom": 500}},
			{"type": "music_score", "description": "Torenmotiv", "bbox": {"top": 600, "bottom": 1000}}
		]
	}` + "\n```"}
	s := NewService(providers.Set{"ollama": fake}, "", "llava")

	got, err := s.Extract(context.Background(), providers.Image{MIMEType: "image/png", Data: []byte("scan")})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !got.Success || got.PageType != "mixed" || got.PageHeight != 2000 {
		t.Errorf("Unexpected result: %+v", got)
	}
	if len(got.Blocks) != 2 || got.Blocks[1].Type != blocks.KindMusicScore {
		t.Errorf("Unexpected regions: %+v", got.Blocks)
	}
	if got.Blocks[1].BBox == nil || got.Blocks[1].BBox.Bottom != 1000 {
		t.Errorf("Expected bounding box, got %+v", got.Blocks[1].BBox)
	}
	if !fake.config.JSON || len(fake.config.Images) != 1 || fake.config.Model != "llava" {
		t.Errorf("Unexpected provider config: %+v", fake.config)
	}
}

func TestExtractPlainTextFallback(t *testing.T) {
	fake := &fakeProvider{reply: "Erster Aufzug.\nEin Wald."}
	s := NewService(providers.Set{"ollama": fake}, "ollama", "llava")

	got, err := s.Extract(context.Background(), providers.Image{Data: []byte("scan")})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.SourceText != "Erster Aufzug.\nEin Wald." || got.PageType != "text" {
		t.Errorf("Unexpected result: %+v", got)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Type != blocks.KindText {
		t.Errorf("Expected a single text region, got %+v", got.Blocks)
	}
}

func TestExtractNormalizesUnicode(t *testing.T) {
	// "Mädchen" with a combining diaeresis
	fake := &fakeProvider{reply: `{"success": true, "source_text": "Ma\u0308dchen"}`}
	s := NewService(providers.Set{"ollama": fake}, "ollama", "llava")

	got, err := s.Extract(context.Background(), providers.Image{Data: []byte("scan")})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.SourceText != "M\u00e4dchen" {
		t.Errorf("Expected composed form, got %q", got.SourceText)
	}
	if len(got.Blocks) != 1 || got.Blocks[0].Content != "M\u00e4dchen" {
		t.Errorf("Expected text region from source text, got %+v", got.Blocks)
	}
}

func TestExtractPageHeightFromImage(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 10, 40))); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	fake := &fakeProvider{reply: `{"success": true, "source_text": "Text.", "blocks": [{"type": "text", "content": "Text."}]}`}
	s := NewService(providers.Set{"ollama": fake}, "ollama", "llava")

	got, err := s.Extract(context.Background(), providers.Image{MIMEType: "image/png", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got.PageHeight != 40 {
		t.Errorf("Expected page height 40, got %d", got.PageHeight)
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeProvider
	}{
		{name: "provider error", fake: &fakeProvider{err: errors.New("connection refused")}},
		{name: "reported failure", fake: &fakeProvider{reply: `{"success": false, "error": "not a book page"}`}},
		{name: "empty reply", fake: &fakeProvider{reply: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(providers.Set{"ollama": tt.fake}, "ollama", "llava")
			_, err := s.Extract(context.Background(), providers.Image{Data: []byte("scan")})
			if !errors.Is(err, providers.ErrCollaborator) {
				t.Errorf("Expected collaborator failure, got %v", err)
			}
		})
	}

	s := NewService(providers.Set{}, "gemini", "x")
	if _, err := s.Extract(context.Background(), providers.Image{}); !errors.Is(err, providers.ErrCollaborator) {
		t.Errorf("Expected collaborator failure for missing provider, got %v", err)
	}
}

package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/providers"
)

// Result is the OCR+segment output for one page scan.
type Result struct {
	Success    bool            `json:"success"`
	SourceText string          `json:"source_text"`
	Blocks     []blocks.Region `json:"blocks"`
	PageType   string          `json:"page_type"`
	// PageHeight is the unit of the region bounding boxes.
	PageHeight int    `json:"page_height,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Service handles OCR extraction from images
type Service struct {
	providers providers.Set
	provider  string
	model     string
}

// NewService creates a new OCR service
func NewService(set providers.Set, provider, model string) *Service {
	if provider == "" {
		provider = "ollama"
	}
	if model == "" {
		model = providers.DefaultModel(provider)
	}
	return &Service{providers: set, provider: provider, model: model}
}

// Extract recognizes the German text of a page scan and classifies its
// regions. Any failure is a providers.CollaboratorError.
func (s *Service) Extract(ctx context.Context, img providers.Image) (*Result, error) {
	p, err := s.providers.Get(s.provider)
	if err != nil {
		return nil, providers.Fail("ocr", s.provider, err)
	}

	raw, err := p.ExtractText(ctx, providers.Config{
		Model:       s.model,
		Temperature: 0.0,
		Prompt:      buildOCRPrompt(),
		Images:      []providers.Image{img},
		JSON:        true,
		MaxTokens:   4000,
	})
	if err != nil {
		return nil, providers.Fail("ocr", s.provider, err)
	}

	result := parseResult(raw)
	if !result.Success {
		return nil, providers.Fail("ocr", s.provider, errors.New(result.Error))
	}
	if result.PageHeight <= 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
			result.PageHeight = cfg.Height
		}
	}

	slog.Info("Extracted OCR text", "provider", s.provider, "model", s.model,
		"length", len(result.SourceText), "regions", len(result.Blocks), "page_type", result.PageType)
	return result, nil
}

// parseResult decodes the model reply. A reply that is not JSON is taken
// as plain recognized text.
func parseResult(response string) *Result {
	response = providers.StripFences(response)

	var result Result
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		slog.Warn("Failed to parse OCR JSON response, using raw output", "error", err)
		text := norm.NFC.String(strings.TrimSpace(response))
		if text == "" {
			return &Result{Error: "empty OCR response"}
		}
		return &Result{
			Success:    true,
			SourceText: text,
			Blocks:     []blocks.Region{{Type: blocks.KindText, Content: text}},
			PageType:   "text",
		}
	}

	if result.Error != "" && !result.Success {
		return &result
	}
	result.SourceText = norm.NFC.String(strings.TrimSpace(result.SourceText))
	for i := range result.Blocks {
		result.Blocks[i].Content = norm.NFC.String(strings.TrimSpace(result.Blocks[i].Content))
	}
	if result.SourceText == "" {
		var parts []string
		for _, r := range result.Blocks {
			if r.Type == blocks.KindText && r.Content != "" {
				parts = append(parts, r.Content)
			}
		}
		result.SourceText = strings.Join(parts, "\n\n")
	}
	if len(result.Blocks) == 0 && result.SourceText != "" {
		result.Blocks = []blocks.Region{{Type: blocks.KindText, Content: result.SourceText}}
	}
	if result.PageType == "" {
		result.PageType = "text"
	}
	if result.SourceText == "" && len(result.Blocks) == 0 {
		result.Error = "no content recognized"
		return &result
	}
	result.Success = true
	return &result
}

func buildOCRPrompt() string {
	return fmt.Sprintf(`You are performing OCR (Optical Character Recognition) on a scanned page of a German-language book about music.

Your task is to transcribe ALL German prose exactly as it appears and to segment the page into regions from top to bottom.

INSTRUCTIONS:
1. Read the page carefully from top to bottom
2. Transcribe every piece of German prose, preserving capitalization, punctuation, umlauts and ß
3. Join words hyphenated across line breaks; keep paragraph breaks
4. Classify every region as one of: "%s" (prose), "%s" (musical notation), "%s" (picture, drawing or photograph)
5. For every region give its vertical bounding box in pixels of the page: "bbox": {"top": ..., "bottom": ...}
6. Do not translate, interpret or add commentary
7. If text is partially obscured or unclear, transcribe what you can see and use [?] for illegible portions

OUTPUT FORMAT:
Respond with ONLY a JSON object:

{
  "success": true,
  "source_text": "all German prose of the page in reading order",
  "page_type": "text | music | illustration | mixed",
  "page_height": 2000,
  "blocks": [
    {"type": "text", "content": "prose of this region", "bbox": {"top": 80, "bottom": 640}},
    {"type": "music_score", "description": "short description of the excerpt", "bbox": {"top": 660, "bottom": 1010}},
    {"type": "illustration", "description": "short description of the picture", "bbox": {"top": 1040, "bottom": 1900}}
  ]
}

If the image is not a readable book page, respond with {"success": false, "error": "reason"}.`,
		blocks.KindText, blocks.KindMusicScore, blocks.KindIllustration)
}

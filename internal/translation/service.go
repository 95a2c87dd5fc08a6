// Package translation turns recognized German page text into sentence-aligned
// Korean and English translations.
package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/providers"
)

// Request is one page to translate, with the end of the previous page as
// context.
type Request struct {
	Text           string `json:"text"`
	PreviousKorean string `json:"previous_korean,omitempty"`
	PreviousGerman string `json:"previous_german,omitempty"`
}

// Result is the translate service output.
type Result struct {
	Success      bool                   `json:"success"`
	Korean       string                 `json:"korean"`
	English      string                 `json:"english"`
	Sentences    []models.Sentence      `json:"sentences"`
	Continuation *continuation.Proposal `json:"continuation,omitempty"`
	Error        string                 `json:"error,omitempty"`
	// Warning is set when the sentence lists had to be truncated.
	Warning string `json:"warning,omitempty"`
}

// Text returns the translation for lang.
func (r *Result) Text(lang models.Language) string {
	if lang == models.English {
		return r.English
	}
	return r.Korean
}

type Service struct {
	providers providers.Set
	provider  string
	model     string
	splitter  *alignment.Splitter
}

func NewService(set providers.Set, provider, model string, splitter *alignment.Splitter) *Service {
	if provider == "" {
		provider = "ollama"
	}
	if model == "" {
		model = providers.DefaultModel(provider)
	}
	return &Service{providers: set, provider: provider, model: model, splitter: splitter}
}

// Translate translates req.Text sentence by sentence. Any failure is a
// providers.CollaboratorError.
func (s *Service) Translate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, providers.Fail("translate", s.provider, errors.New("empty text"))
	}
	raw, err := s.complete(ctx, buildTranslationPrompt(req), 4000)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal([]byte(providers.StripFences(raw)), &result); err != nil {
		return nil, providers.Fail("translate", s.provider, fmt.Errorf("failed to parse translation JSON: %w", err))
	}
	if result.Error != "" {
		return nil, providers.Fail("translate", s.provider, errors.New(result.Error))
	}
	if err := s.normalize(req, &result); err != nil {
		return nil, providers.Fail("translate", s.provider, err)
	}

	slog.Info("Translated page", "provider", s.provider, "model", s.model,
		"sentences", len(result.Sentences), "continuation", result.Continuation != nil)
	return &result, nil
}

// normalize fills in whichever of the joined texts and sentence triples the
// model left out, so both are always present.
func (s *Service) normalize(req Request, r *Result) error {
	var complete []models.Sentence
	for _, st := range r.Sentences {
		st.Source, st.Korean, st.English = strings.TrimSpace(st.Source), strings.TrimSpace(st.Korean), strings.TrimSpace(st.English)
		if st.Source == "" && st.Korean == "" && st.English == "" {
			continue
		}
		complete = append(complete, st)
	}
	repaired, err := alignment.Repair(complete)
	if err != nil {
		r.Warning = err.Error()
	}
	r.Sentences = repaired

	if len(r.Sentences) > 0 {
		if strings.TrimSpace(r.Korean) == "" {
			r.Korean = strings.Join(alignment.Column(r.Sentences, models.Korean), "\n")
		}
		if strings.TrimSpace(r.English) == "" {
			r.English = strings.Join(alignment.Column(r.Sentences, models.English), "\n")
		}
	}
	if strings.TrimSpace(r.Korean) == "" || strings.TrimSpace(r.English) == "" {
		return errors.New("translation is missing a target language")
	}

	if len(r.Sentences) == 0 {
		aligned, err := s.splitter.AlignText(req.Text, r.Korean, r.English)
		if errors.Is(err, alignment.ErrAlignmentMismatch) {
			r.Warning = err.Error()
		}
		r.Sentences = aligned
	}
	r.Success = true
	return nil
}

// DetectContinuation asks the model whether head continues the sentence
// that tail breaks off.
func (s *Service) DetectContinuation(ctx context.Context, tail, head string) (*continuation.Proposal, error) {
	raw, err := s.complete(ctx, buildContinuationPrompt(tail, head), 500)
	if err != nil {
		return nil, err
	}
	var p continuation.Proposal
	if err := json.Unmarshal([]byte(providers.StripFences(raw)), &p); err != nil {
		return nil, providers.Fail("continuation", s.provider, fmt.Errorf("failed to parse continuation JSON: %w", err))
	}
	p.Confidence = min(max(p.Confidence, 0), 1)
	return &p, nil
}

func (s *Service) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	p, err := s.providers.Get(s.provider)
	if err != nil {
		return "", providers.Fail("translate", s.provider, err)
	}
	raw, err := p.ExtractText(ctx, providers.Config{
		Model:       s.model,
		Temperature: 0.1,
		Prompt:      prompt,
		JSON:        true,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", providers.Fail("translate", s.provider, err)
	}
	return raw, nil
}

func buildTranslationPrompt(req Request) string {
	var previous string
	if req.PreviousGerman != "" || req.PreviousKorean != "" {
		previous = fmt.Sprintf(`
CONTEXT FROM THE PREVIOUS PAGE:
German ending: %q
Korean ending: %q

If the first sentence of this page completes a sentence broken off at the end of the previous page,
report it in "continuation" with "is_continuation": true, a "confidence" between 0 and 1 and
"merged_text" holding the complete Korean sentence. Otherwise set "is_continuation": false.
Translate this page on its own in either case; never repeat text of the previous page.
`, req.PreviousGerman, req.PreviousKorean)
	}

	return fmt.Sprintf(`You are an expert literary translator of German books about music into Korean and English.

Translate the German page text below sentence by sentence.

INSTRUCTIONS:
1. Split the German text into sentences at sentence-ending punctuation
2. Translate every sentence into natural Korean and natural English
3. Keep the sentence order; produce exactly one Korean and one English sentence per German sentence
4. Keep names of works, characters and musical terms recognizable
%s
OUTPUT FORMAT:
Respond with ONLY a JSON object:

{
  "sentences": [{"de": "German sentence", "ko": "Korean sentence", "en": "English sentence"}],
  "korean": "all Korean sentences joined with newlines",
  "english": "all English sentences joined with newlines",
  "continuation": {"is_continuation": false, "confidence": 0.0, "merged_text": ""}
}

GERMAN TEXT:
%s`, previous, req.Text)
}

func buildContinuationPrompt(tail, head string) string {
	return fmt.Sprintf(`Two consecutive pages of a Korean book translation are given.

End of the previous page: %q
Start of the next page: %q

Decide whether the start of the next page continues a sentence that the page break cut off.

Respond with ONLY a JSON object:
{"is_continuation": true or false, "confidence": number between 0 and 1, "merged_text": "the complete joined sentence, or empty"}`, tail, head)
}

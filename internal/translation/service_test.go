package translation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/providers"
)

type fakeProvider struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeProvider) ExtractText(_ context.Context, config providers.Config) (string, error) {
	f.prompt = config.Prompt
	return f.reply, f.err
}

func newService(fake *fakeProvider) *Service {
	return NewService(providers.Set{"ollama": fake}, "ollama", "mistral", nil)
}

func TestTranslate(t *testing.T) {
	fake := &fakeProvider{reply: "```json\n" + `{
		"sentences": [
			{"de": "Der Tor kommt.", "ko": "바보가 온다.", "en": "The fool comes."},
			{"de": "Er schweigt.", "ko": "그는 침묵한다.", "en": "He is silent."}
		],
		"continuation": {"is_continuation": true, "confidence": 0.85, "merged_text": "그리고 바보가 온다."}
	}` + "\n```"}
	s := newService(fake)

	got, err := s.Translate(context.Background(), Request{
		Text:           "Der Tor kommt. Er schweigt.",
		PreviousGerman: "Und dann",
		PreviousKorean: "그리고",
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if !got.Success {
		t.Error("Expected success")
	}
	if got.Korean != "바보가 온다.\n그는 침묵한다." {
		t.Errorf("Expected korean joined from sentences, got %q", got.Korean)
	}
	if got.English != "The fool comes.\nHe is silent." {
		t.Errorf("Expected english joined from sentences, got %q", got.English)
	}
	if got.Continuation == nil || got.Continuation.Confidence != 0.85 {
		t.Errorf("Expected continuation proposal, got %+v", got.Continuation)
	}
	if !strings.Contains(fake.prompt, "Und dann") || !strings.Contains(fake.prompt, "그리고") {
		t.Error("Expected previous page context in the prompt")
	}
}

func TestTranslateAlignsWhenSentencesMissing(t *testing.T) {
	fake := &fakeProvider{reply: `{"korean": "하나. 둘.", "english": "One. Two. Three."}`}
	s := newService(fake)

	got, err := s.Translate(context.Background(), Request{Text: "Eins. Zwei."})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(got.Sentences) != 2 {
		t.Fatalf("Expected 2 aligned sentences, got %d", len(got.Sentences))
	}
	if got.Sentences[1].Source != "Zwei." || got.Sentences[1].Korean != "둘." || got.Sentences[1].English != "Two." {
		t.Errorf("Unexpected triple: %+v", got.Sentences[1])
	}
	if got.Warning == "" {
		t.Error("Expected alignment warning for the extra English sentence")
	}
}

func TestTranslateRealignsIncompleteTriples(t *testing.T) {
	fake := &fakeProvider{reply: `{
		"korean": "하나.\n둘.",
		"english": "One.\nTwo.",
		"sentences": [
			{"de": "Eins.", "ko": "하나.", "en": "One."},
			{"de": "Zwei.", "ko": "", "en": "Two."}
		]
	}`}
	s := newService(fake)

	got, err := s.Translate(context.Background(), Request{Text: "Eins. Zwei."})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if len(got.Sentences) != 1 {
		t.Fatalf("Expected truncation to 1 complete triple, got %+v", got.Sentences)
	}
	if got.Sentences[0].Source != "Eins." || got.Sentences[0].Korean != "하나." || got.Sentences[0].English != "One." {
		t.Errorf("Unexpected triple: %+v", got.Sentences[0])
	}
	if !strings.Contains(got.Warning, alignment.ErrAlignmentMismatch.Error()) {
		t.Errorf("Expected an alignment warning, got %q", got.Warning)
	}
}

func TestTranslateFailures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeProvider
		text string
	}{
		{name: "provider error", fake: &fakeProvider{err: context.DeadlineExceeded}, text: "Text."},
		{name: "not json", fake: &fakeProvider{reply: "Ich kann das nicht."}, text: "Text."},
		{name: "reported error", fake: &fakeProvider{reply: `{"error": "quota"}`}, text: "Text."},
		{name: "missing english", fake: &fakeProvider{reply: `{"korean": "텍스트."}`}, text: "Text."},
		{name: "empty text", fake: &fakeProvider{}, text: "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newService(tt.fake).Translate(context.Background(), Request{Text: tt.text})
			if !errors.Is(err, providers.ErrCollaborator) {
				t.Errorf("Expected collaborator failure, got %v", err)
			}
		})
	}
}

func TestDetectContinuation(t *testing.T) {
	fake := &fakeProvider{reply: `{"is_continuation": true, "confidence": 1.4, "merged_text": "그는 천천히 걸어갔다."}`}
	s := newService(fake)

	var d continuation.Detector = s
	p, err := d.DetectContinuation(context.Background(), "그는 천천히", "걸어갔다.")
	if err != nil {
		t.Fatalf("DetectContinuation failed: %v", err)
	}
	if !p.IsContinuation || p.Confidence != 1 {
		t.Errorf("Expected clamped confident continuation, got %+v", p)
	}
	if !strings.Contains(fake.prompt, "그는 천천히") {
		t.Error("Expected the previous tail in the prompt")
	}

	fake.reply = "vielleicht"
	if _, err := s.DetectContinuation(context.Background(), "a", "b"); !errors.Is(err, providers.ErrCollaborator) {
		t.Errorf("Expected collaborator failure, got %v", err)
	}
}

// Package alignment splits page text into sentences and pairs German
// sentences with their Korean and English counterparts.
package alignment

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/neurosnap/sentences"

	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/models"
)

//go:embed training/*.json
var trainingFiles embed.FS

// ErrAlignmentMismatch is reported, never fatal, when the three sentence
// lists have different lengths and the result had to be truncated.
var ErrAlignmentMismatch = errors.New("alignment mismatch")

// Splitter cuts text into sentences at terminal punctuation, honoring the
// abbreviations of its training data. A nil Splitter falls back to plain
// terminal-punctuation splitting.
type Splitter struct {
	*sentences.DefaultSentenceTokenizer
}

// NewSplitter loads the embedded German model.
func NewSplitter() (*Splitter, error) {
	data, err := trainingFiles.ReadFile("training/german.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read sentence model: %w", err)
	}
	model, err := sentences.LoadTraining(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentence model: %w", err)
	}
	return &Splitter{sentences.NewSentenceTokenizer(model)}, nil
}

// Split returns the trimmed, non-empty sentences of in.
func (s *Splitter) Split(in string) []string {
	if s == nil {
		return splitTerminal(in)
	}
	var out []string
	for _, sentence := range s.Tokenize(in) {
		if text := strings.TrimSpace(sentence.Text); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// Count returns the number of sentences in in.
func (s *Splitter) Count(in string) int {
	return len(s.Split(in))
}

func splitTerminal(in string) []string {
	var out []string
	start := 0
	runes := []rune(in)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if text := strings.TrimSpace(string(runes[start : i+1])); text != "" {
			out = append(out, text)
		}
		start = i + 1
	}
	if text := strings.TrimSpace(string(runes[start:])); text != "" {
		out = append(out, text)
	}
	return out
}

// Align pairs the three sentence lists by index. When the lengths differ the
// result is truncated to the shortest list and a wrapped ErrAlignmentMismatch
// is returned alongside the usable triples.
func Align(source, korean, english []string) ([]models.Sentence, error) {
	n := min(len(source), len(korean), len(english))
	out := make([]models.Sentence, n)
	for i := range n {
		out[i] = models.Sentence{Source: source[i], Korean: korean[i], English: english[i]}
	}
	if len(source) == n && len(korean) == n && len(english) == n {
		return out, nil
	}
	slog.Warn("Sentence counts differ, truncating alignment",
		"source", len(source), "korean", len(korean), "english", len(english), "kept", n)
	return out, fmt.Errorf("%w: source=%d korean=%d english=%d, kept %d",
		ErrAlignmentMismatch, len(source), len(korean), len(english), n)
}

// AlignText splits all three bodies with s and aligns them.
func (s *Splitter) AlignText(source, korean, english string) ([]models.Sentence, error) {
	return Align(s.Split(source), s.Split(korean), s.Split(english))
}

// Repair returns triples unchanged when every slot is filled. Otherwise each
// language keeps its non-empty sentences in order and the three columns are
// aligned again, truncated as in Align; the returned error then wraps
// ErrAlignmentMismatch and the triples are still usable.
func Repair(triples []models.Sentence) ([]models.Sentence, error) {
	var source, korean, english []string
	incomplete := false
	for _, t := range triples {
		s, k, e := strings.TrimSpace(t.Source), strings.TrimSpace(t.Korean), strings.TrimSpace(t.English)
		if s == "" || k == "" || e == "" {
			incomplete = true
		}
		if s != "" {
			source = append(source, s)
		}
		if k != "" {
			korean = append(korean, k)
		}
		if e != "" {
			english = append(english, e)
		}
	}
	if !incomplete {
		return triples, nil
	}
	out, err := Align(source, korean, english)
	if err != nil {
		return out, err
	}
	return out, fmt.Errorf("%w: realigned incomplete sentence triples", ErrAlignmentMismatch)
}

// Column extracts one language's side of a triple list. models.Language
// values select the translations; the empty language selects the source.
func Column(triples []models.Sentence, lang models.Language) []string {
	out := make([]string, len(triples))
	for i, t := range triples {
		switch lang {
		case models.Korean:
			out[i] = t.Korean
		case models.English:
			out[i] = t.English
		default:
			out[i] = t.Source
		}
	}
	return out
}

// Replace realigns triples with one language column swapped for column.
// Counts that differ are truncated as in Align.
func Replace(triples []models.Sentence, lang models.Language, column []string) ([]models.Sentence, error) {
	source := Column(triples, "")
	korean := Column(triples, models.Korean)
	english := Column(triples, models.English)
	switch lang {
	case models.Korean:
		korean = column
	case models.English:
		english = column
	default:
		source = column
	}
	return Align(source, korean, english)
}

// Apportion distributes total sentences over blocks with the given sentence
// counts, in order. Each block takes its own count, bounded by what is left;
// a block with a positive count always gets at least one sentence while any
// remain, and the last block absorbs the surplus.
func Apportion(counts []int, total int) []int {
	out := make([]int, len(counts))
	remaining := total
	for i, c := range counts {
		if remaining <= 0 {
			break
		}
		if i == len(counts)-1 {
			out[i] = remaining
			break
		}
		if c <= 0 {
			continue
		}
		n := max(1, min(c, remaining))
		out[i] = n
		remaining -= n
	}
	return out
}

// Span is the half-open sentence range [Start, End) rendered in block Block.
type Span struct {
	Block int
	Start int
	End   int
}

// Spans apportions total sentences over the text blocks of l.
func (s *Splitter) Spans(l blocks.List, total int) []Span {
	idx := l.TextBlocks()
	counts := make([]int, len(idx))
	for i, bi := range idx {
		counts[i] = s.Count(l[bi].(*blocks.TextBlock).Content)
	}
	shares := Apportion(counts, total)

	spans := make([]Span, len(idx))
	next := 0
	for i, bi := range idx {
		spans[i] = Span{Block: bi, Start: next, End: next + shares[i]}
		next += shares[i]
	}
	return spans
}

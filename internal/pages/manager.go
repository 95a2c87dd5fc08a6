// Package pages owns the lifecycle of a book's ordered pages: append, edit,
// retranslate, recrop, reorder and delete, plus the two-phase ingestion of
// newly scanned pages.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sangwookny/wagner/internal/alignment"
	"github.com/sangwookny/wagner/internal/blocks"
	"github.com/sangwookny/wagner/internal/continuation"
	"github.com/sangwookny/wagner/internal/history"
	"github.com/sangwookny/wagner/internal/models"
	"github.com/sangwookny/wagner/internal/providers"
	"github.com/sangwookny/wagner/internal/storage"
	"github.com/sangwookny/wagner/internal/translation"
)

// Context sent with a translation request, in runes.
const (
	PreviousGermanRunes = 300
	PreviousKoreanRunes = continuation.TailRunes
)

var (
	ErrInvalidField     = errors.New("invalid field")
	ErrInvalidTarget    = errors.New("invalid retranslation target")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrIncompleteTriple = errors.New("incomplete sentence triple")
	ErrNoOriginalImage  = errors.New("page has no original scan")
	ErrStaleProposal    = errors.New("continuation proposal is stale")
	ErrPendingNotFound  = errors.New("pending page not found")
	ErrEmptySourceText  = errors.New("page has no source text")
)

// Translator is the external translation collaborator.
type Translator interface {
	Translate(ctx context.Context, req translation.Request) (*translation.Result, error)
}

// Cropper derives images from an original scan.
type Cropper interface {
	Crop(ctx context.Context, originalRef string, c blocks.Crop) (string, error)
	Remove(ref string) error
}

// Field names an editable text of a page.
type Field string

const (
	FieldSource  Field = "german"
	FieldKorean  Field = "korean"
	FieldEnglish Field = "english"
)

// ParseField accepts german, korean and english, with or without a
// "_text" suffix.
func ParseField(s string) (Field, error) {
	switch f := Field(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_text")); f {
	case FieldSource, FieldKorean, FieldEnglish:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

// language maps a translation field to its language; the source field has
// none.
func (f Field) language() models.Language {
	switch f {
	case FieldKorean:
		return models.Korean
	case FieldEnglish:
		return models.English
	default:
		return ""
	}
}

// ParseTarget accepts a language or "all" and returns the languages to
// retranslate.
func ParseTarget(s string) ([]models.Language, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "all" {
		return models.Languages, nil
	}
	if l := models.Language(t); l.Valid() {
		return []models.Language{l}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
}

// Direction is a reorder direction.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Patch is a manual correction of a page. Nil fields are left alone.
// Versions never change.
type Patch struct {
	SourceText *string
	Korean     *string
	English    *string
	Sentences  []models.Sentence
}

func (p Patch) text(f Field) *string {
	switch f {
	case FieldKorean:
		return p.Korean
	case FieldEnglish:
		return p.English
	default:
		return p.SourceText
	}
}

// Manager performs the lifecycle operations. Mutations of one book are
// serialized; different books proceed in parallel.
type Manager struct {
	store      storage.Store
	translator Translator
	cropper    Cropper
	splitter   *alignment.Splitter
	locks      *bookLocks
}

// NewManager creates a page manager. splitter may be nil.
func NewManager(store storage.Store, translator Translator, cropper Cropper, splitter *alignment.Splitter) *Manager {
	return &Manager{
		store:      store,
		translator: translator,
		cropper:    cropper,
		splitter:   splitter,
		locks:      newBookLocks(),
	}
}

// Get returns a committed page.
func (m *Manager) Get(ctx context.Context, pageID int64) (*models.Page, error) {
	return m.store.GetPage(ctx, pageID)
}

// List returns a book's pages in page number order.
func (m *Manager) List(ctx context.Context, bookID int64) ([]*models.Page, error) {
	return m.store.ListPages(ctx, bookID)
}

// WithBook runs fn while holding the book's lock.
func (m *Manager) WithBook(ctx context.Context, bookID int64, fn func(ctx context.Context) error) error {
	unlock, err := m.locks.lock(ctx, bookID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// ForgetBook releases the bookkeeping of a deleted book's lock.
func (m *Manager) ForgetBook(bookID int64) {
	m.locks.forget(bookID)
}

// Append commits page as the next page of the book. Translations start at
// version 1.
func (m *Manager) Append(ctx context.Context, bookID int64, page *models.Page) (*models.Page, error) {
	var out *models.Page
	err := m.WithBook(ctx, bookID, func(ctx context.Context) error {
		var err error
		out, err = m.appendLocked(ctx, bookID, page)
		return err
	})
	return out, err
}

func (m *Manager) appendLocked(ctx context.Context, bookID int64, page *models.Page) (*models.Page, error) {
	p := page.Clone()
	p.ID = 0
	p.BookID = bookID
	if p.PageType == "" {
		p.PageType = "text"
	}
	if err := p.Blocks.Validate(); err != nil {
		return nil, err
	}
	if err := checkTriples(p.Sentences); err != nil {
		return nil, err
	}

	translations := make(map[models.Language]models.Translation, len(models.Languages))
	var entries []models.HistoryEntry
	for _, lang := range models.Languages {
		text := p.Text(lang)
		translations[lang] = models.Translation{Text: text, Version: 1}
		if strings.TrimSpace(text) != "" {
			entries = append(entries, models.HistoryEntry{Language: lang, Text: text, Version: 1})
		}
	}
	p.Translations = translations

	if err := m.store.AppendPage(ctx, p, entries...); err != nil {
		return nil, fmt.Errorf("failed to append page: %w", err)
	}
	slog.Info("Appended page", "book_id", bookID, "page_id", p.ID, "page_number", p.PageNumber)
	return p, nil
}

// EditField replaces one text of a page verbatim.
func (m *Manager) EditField(ctx context.Context, pageID int64, field Field, text string) (*models.Page, error) {
	field, err := ParseField(string(field))
	if err != nil {
		return nil, err
	}
	patch := Patch{}
	switch field {
	case FieldSource:
		patch.SourceText = &text
	case FieldKorean:
		patch.Korean = &text
	case FieldEnglish:
		patch.English = &text
	}
	return m.Edit(ctx, pageID, patch)
}

// Edit applies a manual correction. Edited texts are copied line by line
// into the matching sentence column where both sides have the line.
// Explicit sentences replace the triples after that.
func (m *Manager) Edit(ctx context.Context, pageID int64, patch Patch) (*models.Page, error) {
	if patch.Sentences != nil {
		if err := checkTriples(patch.Sentences); err != nil {
			return nil, err
		}
	}

	var out *models.Page
	err := m.withPage(ctx, pageID, func(ctx context.Context, p *models.Page) error {
		for _, f := range []Field{FieldSource, FieldKorean, FieldEnglish} {
			text := patch.text(f)
			if text == nil {
				continue
			}
			if lang := f.language(); lang != "" {
				t := p.Translations[lang]
				t.Text = *text
				p.Translations[lang] = t
			} else {
				p.SourceText = *text
			}
			syncColumn(p.Sentences, f.language(), *text)
		}
		if patch.Sentences != nil {
			p.Sentences = append([]models.Sentence(nil), patch.Sentences...)
		}

		if err := m.store.UpdatePage(ctx, p); err != nil {
			return fmt.Errorf("failed to update page: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Retranslate translates the current source text again and replaces the
// given languages, each advancing its version by one. On failure the page
// is unchanged.
func (m *Manager) Retranslate(ctx context.Context, pageID int64, langs []models.Language) (*models.Page, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("%w: none", ErrInvalidTarget)
	}
	for _, l := range langs {
		if !l.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, l)
		}
	}

	var out *models.Page
	err := m.withPage(ctx, pageID, func(ctx context.Context, p *models.Page) error {
		if strings.TrimSpace(p.SourceText) == "" {
			return fmt.Errorf("%w: %d", ErrEmptySourceText, p.ID)
		}
		req := translation.Request{Text: p.SourceText}
		if prev, err := m.previousPage(ctx, p); err != nil {
			return err
		} else if prev != nil {
			req.PreviousGerman = continuation.Tail(prev.SourceText, PreviousGermanRunes)
			req.PreviousKorean = continuation.Tail(prev.Text(models.Korean), PreviousKoreanRunes)
		}

		result, err := m.translator.Translate(ctx, req)
		if err != nil {
			return err
		}

		var entries []models.HistoryEntry
		for _, lang := range langs {
			t := models.Translation{Text: result.Text(lang), Version: p.Translations[lang].Version + 1}
			p.Translations[lang] = t
			entries = append(entries, models.HistoryEntry{Language: lang, Text: t.Text, Version: t.Version})
		}
		p.Sentences = m.realign(p, result, langs)
		if err := checkTriples(p.Sentences); err != nil {
			return err
		}

		if err := m.store.UpdatePage(ctx, p, entries...); err != nil {
			return fmt.Errorf("failed to store retranslation: %w", err)
		}
		slog.Info("Retranslated page", "page_id", p.ID, "languages", langs)
		out = p
		return nil
	})
	return out, err
}

// realign rebuilds the triples after a retranslation of langs. Incomplete
// triples are repaired, never stored.
func (m *Manager) realign(p *models.Page, result *translation.Result, langs []models.Language) []models.Sentence {
	triples, err := alignment.Repair(m.align(p, result, langs))
	if err != nil {
		slog.Warn("Sentence alignment truncated", "page_id", p.ID, "error", err)
	}
	return triples
}

func (m *Manager) align(p *models.Page, result *translation.Result, langs []models.Language) []models.Sentence {
	if len(langs) == len(models.Languages) || len(p.Sentences) == 0 {
		if len(result.Sentences) > 0 {
			return result.Sentences
		}
		triples, err := m.splitter.AlignText(p.SourceText, p.Text(models.Korean), p.Text(models.English))
		if err != nil {
			slog.Warn("Sentence alignment truncated", "page_id", p.ID, "error", err)
		}
		return triples
	}

	triples := p.Sentences
	for _, lang := range langs {
		column := alignment.Column(result.Sentences, lang)
		if len(result.Sentences) == 0 {
			column = m.splitter.Split(result.Text(lang))
		}
		var err error
		triples, err = alignment.Replace(triples, lang, column)
		if err != nil {
			slog.Warn("Sentence alignment truncated", "page_id", p.ID, "language", lang, "error", err)
		}
	}
	return triples
}

// Recrop moves the crop window of the media block at index and derives a
// new image for it. The replaced derived image is removed afterwards.
func (m *Manager) Recrop(ctx context.Context, pageID int64, index int, c blocks.Crop) (*models.Page, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var out *models.Page
	err := m.withPage(ctx, pageID, func(ctx context.Context, p *models.Page) error {
		next, block, err := p.Blocks.Recrop(index, c)
		if err != nil {
			return err
		}
		if p.OriginalImageRef == "" {
			return fmt.Errorf("%w: %d", ErrNoOriginalImage, p.ID)
		}

		ref, err := m.cropper.Crop(ctx, p.OriginalImageRef, c)
		if err != nil {
			return asCollaborator("crop", err)
		}
		old := block.ImageRef
		block.ImageRef = ref
		p.Blocks = next

		if err := m.store.UpdatePage(ctx, p); err != nil {
			m.removeImage(ref)
			return fmt.Errorf("failed to store crop: %w", err)
		}
		if old != "" && old != ref && old != p.OriginalImageRef {
			m.removeImage(old)
		}
		slog.Info("Recropped block", "page_id", p.ID, "block_index", index, "top", c.Top, "bottom", c.Bottom)
		out = p
		return nil
	})
	return out, err
}

// Move swaps a page with its neighbor in direction d. Moving past either
// end reports false without an error.
func (m *Manager) Move(ctx context.Context, pageID int64, d Direction) (bool, error) {
	if _, err := ParseDirection(string(d)); err != nil {
		return false, err
	}

	moved := false
	err := m.withPage(ctx, pageID, func(ctx context.Context, p *models.Page) error {
		target := p.PageNumber - 1
		if d == Down {
			target = p.PageNumber + 1
		}
		neighbor, err := m.pageAt(ctx, p.BookID, target)
		if err != nil {
			return err
		}
		if neighbor == nil {
			slog.Info("Page already at the end", "page_id", p.ID, "direction", d)
			return nil
		}
		if err := m.store.SwapPages(ctx, p.ID, neighbor.ID); err != nil {
			return fmt.Errorf("failed to swap pages: %w", err)
		}
		moved = true
		return nil
	})
	return moved, err
}

// Delete removes a page, closes the numbering gap and removes the page's
// derived images.
func (m *Manager) Delete(ctx context.Context, pageID int64) error {
	return m.withPage(ctx, pageID, func(ctx context.Context, p *models.Page) error {
		if err := m.store.DeletePage(ctx, p.ID); err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}
		m.removeDerived(p)
		slog.Info("Deleted page", "book_id", p.BookID, "page_id", p.ID, "page_number", p.PageNumber)
		return nil
	})
}

// History lists a page's translation versions, oldest first, each compared
// with its predecessor.
func (m *Manager) History(ctx context.Context, pageID int64) ([]history.Version, error) {
	entries, err := m.store.ListHistory(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return history.Annotate(entries), nil
}

// withPage loads the page, takes its book's lock and reloads the page under
// the lock before calling fn.
func (m *Manager) withPage(ctx context.Context, pageID int64, fn func(ctx context.Context, p *models.Page) error) error {
	p, err := m.store.GetPage(ctx, pageID)
	if err != nil {
		return err
	}
	return m.WithBook(ctx, p.BookID, func(ctx context.Context) error {
		p, err := m.store.GetPage(ctx, pageID)
		if err != nil {
			return err
		}
		return fn(ctx, p)
	})
}

func (m *Manager) previousPage(ctx context.Context, p *models.Page) (*models.Page, error) {
	if p.PageNumber <= 1 {
		return nil, nil
	}
	return m.pageAt(ctx, p.BookID, p.PageNumber-1)
}

// pageAt returns the page with the given number, or nil.
func (m *Manager) pageAt(ctx context.Context, bookID int64, number int) (*models.Page, error) {
	if number < 1 {
		return nil, nil
	}
	pages, err := m.store.ListPages(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if number > len(pages) {
		return nil, nil
	}
	return pages[number-1], nil
}

func (m *Manager) removeDerived(p *models.Page) {
	for _, ref := range p.DerivedImageRefs() {
		m.removeImage(ref)
	}
}

func (m *Manager) removeImage(ref string) {
	if m.cropper == nil {
		return
	}
	if err := m.cropper.Remove(ref); err != nil {
		slog.Warn("Failed to remove derived image", "ref", ref, "error", err)
	}
}

// syncColumn overwrites one column of triples with the lines of text, for
// the lines both sides have.
func syncColumn(triples []models.Sentence, lang models.Language, text string) {
	lines := strings.Split(text, "\n")
	for i := 0; i < len(triples) && i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		switch lang {
		case models.Korean:
			triples[i].Korean = line
		case models.English:
			triples[i].English = line
		default:
			triples[i].Source = line
		}
	}
}

func checkTriples(triples []models.Sentence) error {
	for i, t := range triples {
		if strings.TrimSpace(t.Source) == "" || strings.TrimSpace(t.Korean) == "" || strings.TrimSpace(t.English) == "" {
			return fmt.Errorf("%w: sentence %d", ErrIncompleteTriple, i)
		}
	}
	return nil
}

// asCollaborator marks err as a collaborator failure unless it already is
// one.
func asCollaborator(service string, err error) error {
	if errors.Is(err, providers.ErrCollaborator) {
		return err
	}
	return providers.Fail(service, "", err)
}
